// Package vault is the orchestrator: the single owner of the debt ledger.
// Every entry point (deposit, withdraw, report, rebalance, admin action)
// runs to completion under a single-operation guard, persists the ledger,
// and publishes an event. Nothing else in the system mutates the ledger.
package vault

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/ledger"
	"github.com/aristath/steward/internal/modules/liquidation"
	"github.com/aristath/steward/internal/modules/profitlock"
	"github.com/aristath/steward/internal/modules/rebalancing"
	"github.com/aristath/steward/internal/modules/settings"
)

// Service orchestrates all vault operations.
type Service struct {
	mu   sync.Mutex
	inOp atomic.Bool

	ledger     *ledger.Ledger
	repo       *ledger.Repository
	shares     domain.ShareSupply
	strategies map[string]domain.Strategy

	liquidator *liquidation.Engine
	rebalancer *rebalancing.Service
	profits    *profitlock.Calculator
	settings   *settings.Service
	bus        *events.Bus

	now func() int64
	log zerolog.Logger
}

// NewService creates the vault orchestrator around an already-loaded ledger.
func NewService(
	l *ledger.Ledger,
	repo *ledger.Repository,
	shareSupply domain.ShareSupply,
	liquidator *liquidation.Engine,
	rebalancer *rebalancing.Service,
	profits *profitlock.Calculator,
	settingsSvc *settings.Service,
	bus *events.Bus,
	log zerolog.Logger,
) *Service {
	return &Service{
		ledger:     l,
		repo:       repo,
		shares:     shareSupply,
		strategies: make(map[string]domain.Strategy),
		liquidator: liquidator,
		rebalancer: rebalancer,
		profits:    profits,
		settings:   settingsSvc,
		bus:        bus,
		now:        func() int64 { return time.Now().Unix() },
		log:        log.With().Str("service", "vault").Logger(),
	}
}

// SetClock overrides the time source. Used by tests and the scheduler.
func (s *Service) SetClock(now func() int64) {
	s.now = now
}

// AttachStrategy wires a strategy adapter so liquidation, rebalancing and
// harvests can reach it.
func (s *Service) AttachStrategy(id string, strat domain.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[id] = strat
}

// DetachStrategy removes a strategy adapter. Ledger debt is untouched.
func (s *Service) DetachStrategy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strategies, id)
}

// begin acquires the single-operation guard. Every ledger value is read
// multiple times during an operation, so a reentrant call (a strategy
// calling back in while its own withdrawal is serviced) must fail rather
// than observe the ledger mid-flight.
func (s *Service) begin() (func(), error) {
	if s.inOp.Load() {
		return nil, ErrOperationInProgress
	}
	s.mu.Lock()
	s.inOp.Store(true)
	return func() {
		s.inOp.Store(false)
		s.mu.Unlock()
	}, nil
}

// persist writes the ledger aggregate through the repository. Persistence
// failure after a completed operation is surfaced but the in-memory state
// stands; the next successful operation rewrites the full aggregate.
func (s *Service) persist() error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Save(s.ledger); err != nil {
		return fmt.Errorf("failed to persist ledger: %w", err)
	}
	return nil
}

func (s *Service) emit(eventType events.EventType, data interface{}) {
	if s.bus != nil {
		s.bus.Emit(eventType, "vault", data)
	}
}

// Deposit credits idle funds and mints shares at the free-funds exchange
// rate. Fails during emergency shutdown or past the deposit limit.
func (s *Service) Deposit(holder string, amount uint64) (uint64, error) {
	done, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer done()

	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	if s.ledger.EmergencyShutdown() {
		return 0, ErrShutdown
	}
	if limit := s.ledger.DepositLimit(); limit > 0 && s.ledger.TotalAssets()+amount > limit {
		return 0, fmt.Errorf("%w: assets %d deposit %d limit %d", ErrDepositLimit, s.ledger.TotalAssets(), amount, limit)
	}

	supply, err := s.shares.TotalSupply()
	if err != nil {
		return 0, fmt.Errorf("failed to read share supply: %w", err)
	}
	now := s.now()
	minted := s.profits.SharesForAmount(s.ledger, supply, amount, now)

	s.ledger.AddIdle(amount)
	if err := s.shares.Mint(holder, minted); err != nil {
		s.ledger.SubIdle(amount)
		return 0, fmt.Errorf("failed to mint shares: %w", err)
	}
	if err := s.persist(); err != nil {
		return 0, err
	}

	s.emit(events.DepositProcessed, events.DepositProcessedData{
		Holder: holder,
		Amount: amount,
		Shares: minted,
	})
	s.log.Info().
		Str("holder", holder).
		Uint64("amount", amount).
		Uint64("shares", minted).
		Msg("Deposit processed")
	return minted, nil
}

// Withdraw redeems shares for underlying, liquidating strategies in queue
// order when idle funds cannot cover the value. The holder receives the
// full share value; realized losses reduce the pool (charged against locked
// profit first). Fails atomically on a shortfall or a loss past the limit.
func (s *Service) Withdraw(holder string, shareAmount uint64) (uint64, uint64, error) {
	done, err := s.begin()
	if err != nil {
		return 0, 0, err
	}
	defer done()

	if shareAmount == 0 {
		return 0, 0, ErrInvalidAmount
	}
	balance, err := s.shares.BalanceOf(holder)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read share balance: %w", err)
	}
	if shareAmount > balance {
		return 0, 0, fmt.Errorf("%w: balance %d requested %d", ErrInsufficientShares, balance, shareAmount)
	}

	supply, err := s.shares.TotalSupply()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read share supply: %w", err)
	}
	now := s.now()
	value := s.profits.SharePrice(s.ledger, supply, shareAmount, now)
	if value == 0 {
		return 0, 0, ErrInvalidAmount
	}

	params, err := s.settings.Vault()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load vault parameters: %w", err)
	}

	res, err := s.liquidator.Withdraw(s.ledger, s.strategiesCopy(), value, params.MaxWithdrawalLossBps)
	if err != nil {
		return 0, 0, err
	}
	if res.Loss > 0 {
		s.profits.ReduceLock(s.ledger, res.Loss, now)
	}
	if err := s.ledger.SubIdle(value); err != nil {
		return 0, 0, err
	}
	if err := s.shares.Burn(holder, shareAmount); err != nil {
		return 0, 0, fmt.Errorf("failed to burn shares: %w", err)
	}
	if err := s.persist(); err != nil {
		return 0, 0, err
	}

	s.emit(events.WithdrawProcessed, events.WithdrawProcessedData{
		Holder: holder,
		Amount: value,
		Shares: shareAmount,
		Loss:   res.Loss,
	})
	s.log.Info().
		Str("holder", holder).
		Uint64("amount", value).
		Uint64("shares", shareAmount).
		Uint64("loss", res.Loss).
		Msg("Withdrawal processed")
	return value, res.Loss, nil
}

// Report ingests a strategy's accounting report. Only the strategy itself
// may report for its own id.
func (s *Service) Report(callerID, strategyID string, gain, loss, debtPayment uint64) (uint64, error) {
	done, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer done()

	if callerID != strategyID {
		return 0, fmt.Errorf("%w: %s reporting for %s", ErrUnauthorized, callerID, strategyID)
	}
	return s.applyReport(strategyID, gain, loss, debtPayment)
}

// Harvest asks a strategy for its current results and reports them on its
// behalf.
func (s *Service) Harvest(strategyID string) (uint64, error) {
	done, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer done()

	strat, ok := s.strategies[strategyID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	gain, loss, debtPayment, err := strat.Harvest()
	if err != nil {
		return 0, fmt.Errorf("failed to harvest strategy %s: %w", strategyID, err)
	}
	return s.applyReport(strategyID, gain, loss, debtPayment)
}

// applyReport runs the report state machine behind a ledger checkpoint so a
// report either lands in full or not at all. Callers hold the operation
// guard.
func (s *Service) applyReport(strategyID string, gain, loss, debtPayment uint64) (uint64, error) {
	snap, err := s.ledger.Snapshot()
	if err != nil {
		return 0, fmt.Errorf("failed to checkpoint ledger before report: %w", err)
	}
	newDebt, err := s.runReport(strategyID, gain, loss, debtPayment)
	if err != nil {
		if restoreErr := s.ledger.Restore(snap); restoreErr != nil {
			return 0, fmt.Errorf("%w (and rollback failed: %v)", err, restoreErr)
		}
		return 0, err
	}
	return newDebt, nil
}

func (s *Service) runReport(strategyID string, gain, loss, debtPayment uint64) (uint64, error) {
	entry, ok := s.ledger.Strategy(strategyID)
	if !ok || !entry.Registered() {
		return 0, ledger.ErrNotRegistered
	}
	now := s.now()

	// Debt repayment first, clamped to what is actually outstanding.
	if outstanding := s.ledger.DebtOutstanding(strategyID); debtPayment > outstanding {
		debtPayment = outstanding
	}
	if debtPayment > 0 {
		if err := s.ledger.DecreaseDebt(strategyID, debtPayment); err != nil {
			return 0, err
		}
		s.ledger.AddIdle(debtPayment)
	}

	// Losses come off the strategy's debt and drain locked profit before
	// they can touch free funds.
	if loss > 0 {
		if err := s.ledger.DecreaseDebt(strategyID, loss); err != nil {
			return 0, err
		}
		if err := s.ledger.RecordLoss(strategyID, loss); err != nil {
			return 0, err
		}
		s.profits.ReduceLock(s.ledger, loss, now)
	}

	var fee uint64
	if gain > 0 {
		s.ledger.AddIdle(gain)
		if err := s.ledger.RecordGain(strategyID, gain); err != nil {
			return 0, err
		}

		params, err := s.settings.Vault()
		if err != nil {
			return 0, fmt.Errorf("failed to load vault parameters: %w", err)
		}
		feeBps := entry.PerformanceFeeBps(s.ledger.PerformanceFeeBps())
		if feeBps == 0 {
			feeBps = params.PerformanceFeeBps
		}

		var netGain uint64
		fee, netGain = s.profits.PerformanceFee(gain, feeBps)

		// Lock the net gain before pricing the fee shares so the fee
		// recipient cannot capture the gain it is being paid from.
		s.profits.LockGain(s.ledger, netGain, now)
		if fee > 0 {
			supply, err := s.shares.TotalSupply()
			if err != nil {
				return 0, fmt.Errorf("failed to read share supply: %w", err)
			}
			feeShares := s.profits.SharesForAmount(s.ledger, supply, fee, now)
			if err := s.shares.Mint(params.RewardsRecipient, feeShares); err != nil {
				return 0, fmt.Errorf("failed to mint fee shares: %w", err)
			}
		}
	} else if loss == 0 {
		// Zero report: refresh the lock clock without changing the locked
		// remainder.
		s.profits.ReduceLock(s.ledger, 0, now)
	}

	if err := s.ledger.SetStrategyReportAt(strategyID, now); err != nil {
		return 0, err
	}

	updated, _ := s.ledger.Strategy(strategyID)
	if s.repo != nil {
		record := ledger.ReportRecord{
			StrategyID:    strategyID,
			Gain:          gain,
			Loss:          loss,
			DebtRepayment: debtPayment,
			FeeAmount:     fee,
			NewDebt:       updated.Debt,
			CreatedAt:     now,
		}
		if _, err := s.repo.InsertReport(record); err != nil {
			s.log.Warn().Err(err).Msg("Failed to record report audit row")
		}
	}
	if err := s.persist(); err != nil {
		return 0, err
	}

	s.emit(events.ReportProcessed, events.ReportProcessedData{
		StrategyID: strategyID,
		Gain:       gain,
		Loss:       loss,
		Fee:        fee,
		NewDebt:    updated.Debt,
	})
	s.log.Info().
		Str("strategy", strategyID).
		Uint64("gain", gain).
		Uint64("loss", loss).
		Uint64("debt_payment", debtPayment).
		Uint64("fee", fee).
		Uint64("new_debt", updated.Debt).
		Msg("Report processed")
	return updated.Debt, nil
}

// ExecuteRebalance runs a full rebalance cycle.
func (s *Service) ExecuteRebalance() (*rebalancing.Outcome, error) {
	done, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	outcome, err := s.rebalancer.Execute(s.ledger, s.strategies, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.persist(); err != nil {
		return nil, err
	}

	s.emit(events.RebalanceExecuted, events.RebalanceExecutedData{
		Moved:          outcome.Moved,
		Loss:           outcome.Loss,
		ImprovementBps: outcome.ImprovementBps,
		Strategies:     outcome.TargetCount,
	})
	return outcome, nil
}

// ShouldRebalance reports whether an automatic rebalance is worthwhile.
func (s *Service) ShouldRebalance() (*rebalancing.TriggerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebalancer.ShouldRebalance(s.ledger, s.now())
}

// SyncQuotes refreshes advisory data and APY history, and re-checks each
// attached strategy's liveness. Run on a schedule.
func (s *Service) SyncQuotes() error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := s.rebalancer.SyncQuotes(s.ledger, s.now()); err != nil {
		return err
	}
	s.refreshStrategyStatus()
	return s.persist()
}

// refreshStrategyStatus probes each attached strategy and flags the ones
// reporting themselves inactive so the allocator stops growing them. The
// probe is best-effort: a failed status call means the last known flag
// stands.
func (s *Service) refreshStrategyStatus() {
	for id, strat := range s.strategies {
		active, err := strat.IsActive()
		if err != nil {
			s.log.Warn().Err(err).Str("strategy", id).Msg("Strategy status check failed, keeping previous state")
			continue
		}
		if err := s.ledger.SetInactive(id, !active); err != nil {
			s.log.Warn().Err(err).Str("strategy", id).Msg("Failed to update strategy status")
			continue
		}
		if !active {
			s.log.Warn().Str("strategy", id).Msg("Strategy reported inactive, excluded from new allocations")
		}
	}
}

// AccrueFees charges the management fee accrued since the last tick and
// mints it as shares to the rewards recipient.
func (s *Service) AccrueFees() (uint64, error) {
	done, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer done()

	now := s.now()
	fee := s.profits.AccrueManagementFee(s.ledger, now)
	if fee > 0 {
		params, err := s.settings.Vault()
		if err != nil {
			return 0, fmt.Errorf("failed to load vault parameters: %w", err)
		}
		supply, err := s.shares.TotalSupply()
		if err != nil {
			return 0, fmt.Errorf("failed to read share supply: %w", err)
		}
		feeShares := s.profits.SharesForAmount(s.ledger, supply, fee, now)
		if err := s.shares.Mint(params.RewardsRecipient, feeShares); err != nil {
			return 0, fmt.Errorf("failed to mint fee shares: %w", err)
		}
		s.emit(events.FeesAccrued, events.FeesAccruedData{
			Fee:       fee,
			FeeShares: feeShares,
			Recipient: params.RewardsRecipient,
		})
	}
	if err := s.persist(); err != nil {
		return 0, err
	}
	return fee, nil
}

// PreviewWithdraw simulates freeing `amount` of underlying without touching
// any state. Shortfalls are reported structurally, never as errors.
func (s *Service) PreviewWithdraw(amount uint64) liquidation.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liquidator.Preview(s.ledger, s.strategies, amount)
}

// EstimateWithdrawLoss returns the projected loss of a withdrawal.
func (s *Service) EstimateWithdrawLoss(amount uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liquidator.EstimateLoss(s.ledger, s.strategies, amount)
}

// strategiesCopy returns the adapter map for engines that iterate it while
// the guard is held.
func (s *Service) strategiesCopy() map[string]domain.Strategy {
	return s.strategies
}
