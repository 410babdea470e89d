package ledger

import "fmt"

// Ledger is the single owned aggregate for all vault accounting state.
// It is not safe for concurrent use; the orchestrator serializes every
// operation (see vault.Service).
//
// All debt mutation goes through IncreaseDebt/DecreaseDebt. Idle funds move
// through AddIdle/SubIdle. Everything else reads.
type Ledger struct {
	asset string

	idle              uint64
	totalDebt         uint64
	totalDebtRatioBps uint64

	lockedProfit            uint64
	lockedProfitDegradation float64 // fraction of locked profit released per second
	lastReportAt            int64
	lastFeeAccrualAt        int64
	lastRebalanceAt         int64

	depositLimit      uint64
	emergencyShutdown bool
	performanceFeeBps uint64
	managementFeeBps  uint64

	entries map[string]*StrategyEntry
	queue   []string
}

// New creates an empty ledger for the given underlying asset.
func New(asset string) *Ledger {
	return &Ledger{
		asset:   asset,
		entries: make(map[string]*StrategyEntry),
	}
}

// Asset returns the vault's underlying asset identifier.
func (l *Ledger) Asset() string { return l.asset }

// Idle returns capital held directly, not deployed to any strategy.
func (l *Ledger) Idle() uint64 { return l.idle }

// TotalDebt returns the aggregate capital deployed across all strategies.
func (l *Ledger) TotalDebt() uint64 { return l.totalDebt }

// TotalDebtRatioBps returns the aggregate governance cap in basis points.
func (l *Ledger) TotalDebtRatioBps() uint64 { return l.totalDebtRatioBps }

// TotalAssets is idle funds plus everything deployed as debt.
func (l *Ledger) TotalAssets() uint64 { return l.idle + l.totalDebt }

// LockedProfit returns the raw (undecayed) locked profit balance.
func (l *Ledger) LockedProfit() uint64 { return l.lockedProfit }

// LockedProfitDegradation returns the per-second unlock rate.
func (l *Ledger) LockedProfitDegradation() float64 { return l.lockedProfitDegradation }

// LastReportAt returns the profit-lock clock (unix seconds).
func (l *Ledger) LastReportAt() int64 { return l.lastReportAt }

// LastFeeAccrualAt returns the management-fee clock (unix seconds).
// This clock is deliberately separate from the profit-lock clock.
func (l *Ledger) LastFeeAccrualAt() int64 { return l.lastFeeAccrualAt }

// LastRebalanceAt returns when the last rebalance completed (unix seconds).
func (l *Ledger) LastRebalanceAt() int64 { return l.lastRebalanceAt }

// DepositLimit returns the governance deposit cap (0 = closed).
func (l *Ledger) DepositLimit() uint64 { return l.depositLimit }

// EmergencyShutdown reports whether the vault is in emergency state.
func (l *Ledger) EmergencyShutdown() bool { return l.emergencyShutdown }

// PerformanceFeeBps returns the vault default performance fee.
func (l *Ledger) PerformanceFeeBps() uint64 { return l.performanceFeeBps }

// ManagementFeeBps returns the annualized management fee.
func (l *Ledger) ManagementFeeBps() uint64 { return l.managementFeeBps }

// Strategy returns a copy of the entry for id. The second return is false
// when the strategy was never registered.
func (l *Ledger) Strategy(id string) (StrategyEntry, bool) {
	e, ok := l.entries[id]
	if !ok {
		return StrategyEntry{}, false
	}
	return *e, true
}

// Strategies returns copies of all entries in queue order, followed by any
// entries no longer queued.
func (l *Ledger) Strategies() []StrategyEntry {
	out := make([]StrategyEntry, 0, len(l.entries))
	seen := make(map[string]bool, len(l.entries))
	for _, id := range l.queue {
		if e, ok := l.entries[id]; ok {
			out = append(out, *e)
			seen[id] = true
		}
	}
	for id, e := range l.entries {
		if !seen[id] {
			out = append(out, *e)
		}
	}
	return out
}

// Queue returns a copy of the withdrawal queue.
func (l *Ledger) Queue() []string {
	q := make([]string, len(l.queue))
	copy(q, l.queue)
	return q
}

// Register creates a new strategy entry and appends it to the withdrawal
// queue. Preconditions per the registration contract: not already registered,
// queue not full, aggregate ratio stays within MaxBps, min <= max, fee
// override within cap, declared asset matches the vault's.
func (l *Ledger) Register(id, asset string, debtRatioBps, minDebtPerOp, maxDebtPerOp uint64, feeOverrideBps *uint64, now int64) error {
	if e, ok := l.entries[id]; ok && e.Registered() {
		return ErrAlreadyRegistered
	}
	if len(l.queue) >= MaxQueueSize {
		return ErrQueueFull
	}
	if l.totalDebtRatioBps+debtRatioBps > MaxBps {
		return ErrRatioOverflow
	}
	if minDebtPerOp > maxDebtPerOp {
		return ErrMinOverMax
	}
	if feeOverrideBps != nil && *feeOverrideBps > MaxPerformanceFeeBps {
		return ErrFeeOverflow
	}
	if asset != l.asset {
		return ErrAssetMismatch
	}

	l.entries[id] = &StrategyEntry{
		ID:             id,
		ActivatedAt:    now,
		DebtRatioBps:   debtRatioBps,
		MinDebtPerOp:   minDebtPerOp,
		MaxDebtPerOp:   maxDebtPerOp,
		LastReportAt:   now,
		FeeOverrideBps: feeOverrideBps,
	}
	l.queue = append(l.queue, id)
	l.totalDebtRatioBps += debtRatioBps
	return nil
}

// UpdateRatio changes a strategy's governance debt-ratio cap.
func (l *Ledger) UpdateRatio(id string, debtRatioBps uint64) error {
	e, ok := l.entries[id]
	if !ok || !e.Registered() {
		return ErrNotRegistered
	}
	if l.totalDebtRatioBps-e.DebtRatioBps+debtRatioBps > MaxBps {
		return ErrRatioOverflow
	}
	l.totalDebtRatioBps = l.totalDebtRatioBps - e.DebtRatioBps + debtRatioBps
	e.DebtRatioBps = debtRatioBps
	return nil
}

// Revoke soft-deletes a strategy: its ratio drops to zero and the aggregate
// ratio shrinks accordingly, but its debt persists until liquidated by later
// withdrawals. The entry stays registered and queued.
func (l *Ledger) Revoke(id string) error {
	return l.UpdateRatio(id, 0)
}

// SetQueue replaces the withdrawal queue. Every id must be registered and
// unique; length is bounded by MaxQueueSize.
func (l *Ledger) SetQueue(ids []string) error {
	if len(ids) > MaxQueueSize {
		return ErrQueueFull
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		e, ok := l.entries[id]
		if !ok || !e.Registered() {
			return fmt.Errorf("%w: %s", ErrNotRegistered, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrQueueDuplicate, id)
		}
		seen[id] = true
	}
	l.queue = append([]string(nil), ids...)
	return nil
}

// CreditAvailable returns how much new debt the strategy may take on:
// the tightest of its own cap headroom, the aggregate cap headroom and the
// idle funds actually on hand, floored to zero below its per-op minimum and
// capped at its per-op maximum (0 = no per-op cap). A strategy flagged
// inactive has no credit.
func (l *Ledger) CreditAvailable(id string) uint64 {
	if l.emergencyShutdown {
		return 0
	}
	e, ok := l.entries[id]
	if !ok || !e.Registered() || e.Inactive {
		return 0
	}

	totalAssets := l.TotalAssets()
	strategyCap := MulDiv(totalAssets, e.DebtRatioBps, MaxBps)
	aggregateCap := MulDiv(totalAssets, l.totalDebtRatioBps, MaxBps)
	if e.Debt >= strategyCap || l.totalDebt >= aggregateCap {
		return 0
	}

	available := strategyCap - e.Debt
	available = minU64(available, aggregateCap-l.totalDebt)
	available = minU64(available, l.idle)

	if available < e.MinDebtPerOp {
		return 0
	}
	if e.MaxDebtPerOp > 0 {
		available = minU64(available, e.MaxDebtPerOp)
	}
	return available
}

// DebtOutstanding returns how much of the strategy's debt exceeds its cap.
// A revoked strategy (ratio 0) and an emergency-shutdown vault owe everything
// back.
func (l *Ledger) DebtOutstanding(id string) uint64 {
	e, ok := l.entries[id]
	if !ok || !e.Registered() {
		return 0
	}
	if l.emergencyShutdown || e.DebtRatioBps == 0 {
		return e.Debt
	}
	strategyCap := MulDiv(l.TotalAssets(), e.DebtRatioBps, MaxBps)
	if e.Debt <= strategyCap {
		return 0
	}
	return e.Debt - strategyCap
}

// IncreaseDebt records newly deployed capital. Only allocatable strategies
// (registered, nonzero ratio, not flagged inactive) may take on debt.
func (l *Ledger) IncreaseDebt(id string, amount uint64) error {
	e, ok := l.entries[id]
	if !ok || !e.Registered() {
		return ErrNotRegistered
	}
	if e.DebtRatioBps == 0 || e.Inactive {
		return ErrInactiveStrategy
	}
	e.Debt += amount
	l.totalDebt += amount
	return nil
}

// DecreaseDebt records capital actually returned by the strategy. Callers
// must pass the repaid amount, never the requested amount: debt a strategy
// failed to return is still owed. Decreasing past the recorded debt is a
// fatal invariant violation, never clamped.
func (l *Ledger) DecreaseDebt(id string, amount uint64) error {
	e, ok := l.entries[id]
	if !ok || !e.Registered() {
		return ErrNotRegistered
	}
	if amount > e.Debt {
		return fmt.Errorf("%w: strategy %s debt %d decrease %d", ErrDebtUnderflow, id, e.Debt, amount)
	}
	e.Debt -= amount
	l.totalDebt -= amount
	return nil
}

// AddIdle credits directly held funds (deposits, repayments, realized gains).
func (l *Ledger) AddIdle(amount uint64) {
	l.idle += amount
}

// SubIdle debits directly held funds. Underflow is an invariant violation.
func (l *Ledger) SubIdle(amount uint64) error {
	if amount > l.idle {
		return fmt.Errorf("%w: idle %d debit %d", ErrIdleUnderflow, l.idle, amount)
	}
	l.idle -= amount
	return nil
}

// RecordGain accumulates a strategy's reported gain.
func (l *Ledger) RecordGain(id string, gain uint64) error {
	e, ok := l.entries[id]
	if !ok || !e.Registered() {
		return ErrNotRegistered
	}
	e.CumulativeGain += gain
	return nil
}

// RecordLoss accumulates a strategy's reported loss.
func (l *Ledger) RecordLoss(id string, loss uint64) error {
	e, ok := l.entries[id]
	if !ok || !e.Registered() {
		return ErrNotRegistered
	}
	e.CumulativeLoss += loss
	return nil
}

// SetStrategyReportAt advances a strategy's report clock.
func (l *Ledger) SetStrategyReportAt(id string, now int64) error {
	e, ok := l.entries[id]
	if !ok || !e.Registered() {
		return ErrNotRegistered
	}
	e.LastReportAt = now
	return nil
}

// SetCachedQuote stores the latest accepted advisory observation on the
// entry, for display and for coverage accounting.
func (l *Ledger) SetCachedQuote(id string, apy, riskScore float64) error {
	e, ok := l.entries[id]
	if !ok || !e.Registered() {
		return ErrNotRegistered
	}
	e.CachedAPY = apy
	e.CachedRiskScore = riskScore
	return nil
}

// SetInactive flags or unflags a strategy following best-effort status
// checks. Inactive strategies cannot take on new debt.
func (l *Ledger) SetInactive(id string, inactive bool) error {
	e, ok := l.entries[id]
	if !ok || !e.Registered() {
		return ErrNotRegistered
	}
	e.Inactive = inactive
	return nil
}

// SetLockedProfit replaces the locked profit balance and advances the
// profit-lock clock. The profitlock package owns the decay math.
func (l *Ledger) SetLockedProfit(amount uint64, now int64) {
	l.lockedProfit = amount
	l.lastReportAt = now
}

// SetLockedProfitDegradation sets the per-second unlock rate.
func (l *Ledger) SetLockedProfitDegradation(rate float64) {
	if rate < 0 {
		rate = 0
	}
	l.lockedProfitDegradation = rate
}

// SetLastFeeAccrualAt advances the management-fee clock. It advances even on
// zero-fee ticks; conflating it with the profit-lock clock would break either
// the anti-dilution guarantee or fee timing.
func (l *Ledger) SetLastFeeAccrualAt(now int64) {
	l.lastFeeAccrualAt = now
}

// SetLastRebalanceAt records a completed rebalance for rate limiting.
func (l *Ledger) SetLastRebalanceAt(now int64) {
	l.lastRebalanceAt = now
}

// SetDepositLimit sets the governance deposit cap.
func (l *Ledger) SetDepositLimit(limit uint64) {
	l.depositLimit = limit
}

// SetEmergencyShutdown toggles the emergency state.
func (l *Ledger) SetEmergencyShutdown(active bool) {
	l.emergencyShutdown = active
}

// SetPerformanceFeeBps sets the vault default performance fee.
func (l *Ledger) SetPerformanceFeeBps(bps uint64) error {
	if bps > MaxPerformanceFeeBps {
		return ErrFeeOverflow
	}
	l.performanceFeeBps = bps
	return nil
}

// SetManagementFeeBps sets the annualized management fee.
func (l *Ledger) SetManagementFeeBps(bps uint64) error {
	if bps > MaxBps {
		return ErrFeeOverflow
	}
	l.managementFeeBps = bps
	return nil
}

// CheckInvariants verifies the two reconciliation invariants: total debt
// equals the sum of per-strategy debts, and the aggregate ratio equals the
// sum of per-strategy ratios and stays within MaxBps.
func (l *Ledger) CheckInvariants() error {
	var debtSum, ratioSum uint64
	for _, e := range l.entries {
		if !e.Registered() {
			continue
		}
		debtSum += e.Debt
		ratioSum += e.DebtRatioBps
	}
	if debtSum != l.totalDebt {
		return fmt.Errorf("total debt %d != sum of strategy debts %d", l.totalDebt, debtSum)
	}
	if ratioSum != l.totalDebtRatioBps {
		return fmt.Errorf("total debt ratio %d != sum of strategy ratios %d", l.totalDebtRatioBps, ratioSum)
	}
	if ratioSum > MaxBps {
		return fmt.Errorf("aggregate debt ratio %d exceeds %d bps", ratioSum, MaxBps)
	}
	return nil
}
