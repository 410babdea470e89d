// Package ledger implements the vault's debt ledger: per-strategy and
// aggregate debt bookkeeping, the withdrawal queue, and the two debt
// primitives every other component must go through. The Ledger aggregate is
// the sole mutable source of truth; no component duplicates its fields.
package ledger

const (
	// MaxBps is the basis-point ceiling for all ratio arithmetic.
	MaxBps = 10_000

	// MaxQueueSize bounds the withdrawal queue (and therefore the number of
	// registered strategies).
	MaxQueueSize = 32

	// MaxPerformanceFeeBps caps per-strategy fee overrides.
	MaxPerformanceFeeBps = 5_000

	// SecondsPerYear is the management-fee annualization denominator
	// (mean Gregorian year).
	SecondsPerYear = 31_556_952
)

// StrategyEntry is the per-strategy bookkeeping record. Entries are created
// on registration, mutated only through Ledger methods, and soft-deleted on
// revocation: the ratio drops to zero but the entry (and its debt) persists
// until liquidated.
type StrategyEntry struct {
	ID              string  `msgpack:"id" json:"id"`
	ActivatedAt     int64   `msgpack:"activated_at" json:"activated_at"` // 0 = unregistered
	DebtRatioBps    uint64  `msgpack:"debt_ratio_bps" json:"debt_ratio_bps"`
	MinDebtPerOp    uint64  `msgpack:"min_debt_per_op" json:"min_debt_per_op"`
	MaxDebtPerOp    uint64  `msgpack:"max_debt_per_op" json:"max_debt_per_op"`
	Debt            uint64  `msgpack:"debt" json:"debt"`
	CumulativeGain  uint64  `msgpack:"cumulative_gain" json:"cumulative_gain"`
	CumulativeLoss  uint64  `msgpack:"cumulative_loss" json:"cumulative_loss"`
	LastReportAt    int64   `msgpack:"last_report_at" json:"last_report_at"`
	CachedAPY       float64 `msgpack:"cached_apy" json:"cached_apy"`
	CachedRiskScore float64 `msgpack:"cached_risk_score" json:"cached_risk_score"`
	FeeOverrideBps  *uint64 `msgpack:"fee_override_bps" json:"fee_override_bps,omitempty"`
	Inactive        bool    `msgpack:"inactive" json:"inactive"` // set from best-effort strategy status checks
}

// Registered reports whether the entry refers to a registered strategy.
func (e *StrategyEntry) Registered() bool {
	return e != nil && e.ActivatedAt != 0
}

// PerformanceFeeBps resolves the effective performance fee for this entry.
func (e *StrategyEntry) PerformanceFeeBps(vaultDefault uint64) uint64 {
	if e.FeeOverrideBps != nil {
		return *e.FeeOverrideBps
	}
	return vaultDefault
}
