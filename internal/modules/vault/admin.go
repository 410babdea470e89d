package vault

import (
	"fmt"

	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/ledger"
)

// RegisterStrategy adds a strategy to the ledger and attaches its adapter.
func (s *Service) RegisterStrategy(id string, strat domain.Strategy, debtRatioBps, minDebtPerOp, maxDebtPerOp uint64, feeOverrideBps *uint64) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	if s.ledger.EmergencyShutdown() {
		return ErrShutdown
	}
	asset := s.ledger.Asset()
	if strat != nil {
		asset = strat.Asset()
	}
	if err := s.ledger.Register(id, asset, debtRatioBps, minDebtPerOp, maxDebtPerOp, feeOverrideBps, s.now()); err != nil {
		return err
	}
	if strat != nil {
		s.strategies[id] = strat
	}
	if err := s.persist(); err != nil {
		return err
	}

	s.emit(events.StrategyRegistered, events.StrategyLifecycleData{
		StrategyID:   id,
		DebtRatioBps: debtRatioBps,
	})
	s.log.Info().
		Str("strategy", id).
		Uint64("debt_ratio_bps", debtRatioBps).
		Msg("Strategy registered")
	return nil
}

// UpdateStrategyRatio changes a strategy's governance debt ratio cap.
func (s *Service) UpdateStrategyRatio(id string, debtRatioBps uint64) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := s.ledger.UpdateRatio(id, debtRatioBps); err != nil {
		return err
	}
	return s.persist()
}

// RevokeStrategy soft-deletes a strategy: its ratio drops to zero so no new
// debt flows in, while existing debt stays owed until liquidated. The
// adapter stays attached for exactly that reason.
func (s *Service) RevokeStrategy(id string) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	entry, ok := s.ledger.Strategy(id)
	if !ok || !entry.Registered() {
		return ledger.ErrNotRegistered
	}
	if err := s.ledger.Revoke(id); err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		return err
	}

	s.emit(events.StrategyRevoked, events.StrategyLifecycleData{StrategyID: id})
	s.log.Info().Str("strategy", id).Uint64("debt", entry.Debt).Msg("Strategy revoked, debt persists until liquidated")
	return nil
}

// EmergencyExitStrategy asks one strategy to unwind everything it can right
// now. Freed funds return to idle and repay debt up to the amount owed; any
// debt the exit could not cover stays on the books.
func (s *Service) EmergencyExitStrategy(id string) (uint64, error) {
	done, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer done()

	entry, ok := s.ledger.Strategy(id)
	if !ok || !entry.Registered() {
		return 0, ledger.ErrNotRegistered
	}
	strat, ok := s.strategies[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}

	freed, err := strat.EmergencyExit()
	if err != nil {
		return 0, fmt.Errorf("failed to emergency-exit strategy %s: %w", id, err)
	}

	repaid := freed
	if repaid > entry.Debt {
		repaid = entry.Debt
	}
	s.ledger.AddIdle(freed)
	if repaid > 0 {
		if err := s.ledger.DecreaseDebt(id, repaid); err != nil {
			return 0, err
		}
	}
	if err := s.persist(); err != nil {
		return 0, err
	}

	s.emit(events.EmergencyExited, map[string]interface{}{
		"strategy_id": id,
		"freed":       freed,
		"repaid":      repaid,
	})
	s.log.Warn().
		Str("strategy", id).
		Uint64("freed", freed).
		Uint64("repaid", repaid).
		Uint64("debt_remaining", entry.Debt-repaid).
		Msg("Strategy emergency exit executed")
	return freed, nil
}

// SetWithdrawalQueue replaces the liquidation traversal order.
func (s *Service) SetWithdrawalQueue(ids []string) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := s.ledger.SetQueue(ids); err != nil {
		return err
	}
	return s.persist()
}

// SetDepositLimit caps total assets; zero removes the cap.
func (s *Service) SetDepositLimit(limit uint64) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	s.ledger.SetDepositLimit(limit)
	return s.persist()
}

// SetEmergencyShutdown toggles the shutdown state. While shut down,
// deposits and credit extension stop and every strategy owes its full debt
// back.
func (s *Service) SetEmergencyShutdown(active bool) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	s.ledger.SetEmergencyShutdown(active)
	if err := s.persist(); err != nil {
		return err
	}

	s.emit(events.ShutdownChanged, map[string]interface{}{"active": active})
	s.log.Warn().Bool("active", active).Msg("Emergency shutdown toggled")
	return nil
}

// SetFees updates the vault-level fee schedule.
func (s *Service) SetFees(performanceFeeBps, managementFeeBps uint64) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := s.ledger.SetPerformanceFeeBps(performanceFeeBps); err != nil {
		return err
	}
	if err := s.ledger.SetManagementFeeBps(managementFeeBps); err != nil {
		return err
	}
	return s.persist()
}

// SetLockedProfitDegradation sets the unlock rate (fraction per second).
func (s *Service) SetLockedProfitDegradation(rate float64) error {
	done, err := s.begin()
	if err != nil {
		return err
	}
	defer done()

	if rate < 0 {
		return fmt.Errorf("degradation rate must not be negative")
	}
	s.ledger.SetLockedProfitDegradation(rate)
	return s.persist()
}

// Status is the read model for GET /api/vault.
type Status struct {
	Asset             string `json:"asset"`
	TotalAssets       uint64 `json:"total_assets"`
	Idle              uint64 `json:"idle"`
	TotalDebt         uint64 `json:"total_debt"`
	TotalDebtRatioBps uint64 `json:"total_debt_ratio_bps"`
	LockedProfit      uint64 `json:"locked_profit"`
	FreeFunds         uint64 `json:"free_funds"`
	TotalSupply       uint64 `json:"total_supply"`
	DepositLimit      uint64 `json:"deposit_limit"`
	EmergencyShutdown bool   `json:"emergency_shutdown"`
	QueueLength       int    `json:"queue_length"`
	LastReportAt      int64  `json:"last_report_at"`
	LastRebalanceAt   int64  `json:"last_rebalance_at"`
	PerformanceFeeBps uint64 `json:"performance_fee_bps"`
	ManagementFeeBps  uint64 `json:"management_fee_bps"`
}

// Status returns a snapshot of the vault's accounting state.
func (s *Service) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supply, err := s.shares.TotalSupply()
	if err != nil {
		return Status{}, fmt.Errorf("failed to read share supply: %w", err)
	}
	now := s.now()
	return Status{
		Asset:             s.ledger.Asset(),
		TotalAssets:       s.ledger.TotalAssets(),
		Idle:              s.ledger.Idle(),
		TotalDebt:         s.ledger.TotalDebt(),
		TotalDebtRatioBps: s.ledger.TotalDebtRatioBps(),
		LockedProfit:      s.profits.RemainingLocked(s.ledger, now),
		FreeFunds:         s.profits.FreeFunds(s.ledger, now),
		TotalSupply:       supply,
		DepositLimit:      s.ledger.DepositLimit(),
		EmergencyShutdown: s.ledger.EmergencyShutdown(),
		QueueLength:       len(s.ledger.Queue()),
		LastReportAt:      s.ledger.LastReportAt(),
		LastRebalanceAt:   s.ledger.LastRebalanceAt(),
		PerformanceFeeBps: s.ledger.PerformanceFeeBps(),
		ManagementFeeBps:  s.ledger.ManagementFeeBps(),
	}, nil
}

// Strategies returns the ledger entries in withdrawal queue order.
func (s *Service) Strategies() []ledger.StrategyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Strategies()
}

// CreditAvailable returns how much new debt a strategy may take on.
func (s *Service) CreditAvailable(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.CreditAvailable(id)
}

// DebtOutstanding returns how much debt the vault wants back from a
// strategy.
func (s *Service) DebtOutstanding(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.DebtOutstanding(id)
}

// RecentReports returns the newest report audit rows.
func (s *Service) RecentReports(limit int) ([]ledger.ReportRecord, error) {
	if s.repo == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.RecentReports(limit)
}
