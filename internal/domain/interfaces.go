// Package domain holds shared capability interfaces and value types.
// The domain layer is pure: no infrastructure dependencies. Interfaces here
// exist to break package cycles and to keep external collaborators behind
// narrow capabilities (strategies and advisory sources are fallible and must
// never be trusted with more surface than they need).
package domain

import "time"

// Strategy is the capability surface the vault consumes from an external
// yield strategy. All calls are synchronous and may fail; callers decide per
// call whether a failure is fatal or best-effort (see MaxLiquidatable,
// IsActive, EmergencyExit which are advisory).
type Strategy interface {
	// Asset returns the identifier of the underlying asset the strategy
	// accepts. Registration fails when it does not match the vault's asset.
	Asset() string

	// Withdraw asks the strategy to free up to amount of the underlying and
	// return it to the vault. The returned loss is the portion of the
	// requested amount that was destroyed rather than returned; it is always
	// <= amount. An error aborts the surrounding operation: accounting
	// integrity cannot be guaranteed after a failed debt-moving call.
	Withdraw(amount uint64) (loss uint64, err error)

	// Harvest realizes gains/losses and reports how much debt the strategy
	// wants to repay. The caller feeds the result through the vault's report
	// state machine.
	Harvest() (gain, loss, debtRepayment uint64, err error)

	// EstimatedTotalAssets returns the strategy's own estimate of everything
	// it holds. Used by withdrawal previews to estimate realizable loss.
	EstimatedTotalAssets() (uint64, error)

	// MaxLiquidatable is a best-effort ceiling on how much can be withdrawn
	// in one call. A failure means "no ceiling known" and is never fatal.
	MaxLiquidatable() (uint64, error)

	// IsActive is a best-effort liveness flag. A failure defaults to active.
	IsActive() (bool, error)

	// EmergencyExit asks the strategy to unwind everything it can immediately
	// and returns how much was freed. Best-effort: a failure leaves the
	// strategy's debt on the books for later liquidation.
	EmergencyExit() (uint64, error)
}

// YieldQuote is one advisory observation about a strategy. Consumed, never
// owned: the advisory source computes it, the vault only filters and scores.
type YieldQuote struct {
	APY        float64   `json:"apy"`        // Annualized yield as a decimal (0.05 = 5%)
	RiskScore  float64   `json:"risk_score"` // Higher is riskier, > 0 for usable quotes
	Confidence float64   `json:"confidence"` // 0..1 data quality weight
	UpdatedAt  time.Time `json:"updated_at"` // Observation timestamp for staleness checks
	Round      uint64    `json:"round"`      // Source round id
	PrevRound  uint64    `json:"prev_round"` // Previous round id, for monotonicity checks
}

// AdvisorySource provides yield candidates for an asset. Both calls are
// best-effort from the vault's perspective: a failure degrades the rebalance
// heuristics, it never corrupts accounting.
type AdvisorySource interface {
	// GetCandidates returns parallel slices of strategy identities and their
	// quotes for the given asset.
	GetCandidates(asset string) ([]string, []YieldQuote, error)

	// MaxQuoteAge returns how old a quote may be before it is stale.
	MaxQuoteAge(asset string) (time.Duration, error)
}

// ShareSupply is the vault's view of the fungible receipt token. Mint, burn
// and transfer mechanics belong to the token itself; the vault only needs to
// mint claims, burn redeemed shares and read the supply for exchange-rate
// math.
type ShareSupply interface {
	TotalSupply() (uint64, error)
	BalanceOf(holder string) (uint64, error)
	Mint(holder string, shares uint64) error
	Burn(holder string, shares uint64) error
}
