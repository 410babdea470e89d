package rebalancing

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/allocation"
	"github.com/aristath/steward/internal/modules/ledger"
	"github.com/aristath/steward/internal/modules/settings"
)

// TriggerResult is the outcome of a rebalance trigger check.
type TriggerResult struct {
	ShouldRebalance bool   `json:"should_rebalance"`
	ImprovementBps  int64  `json:"improvement_bps"`
	Reason          string `json:"reason"`
}

// TriggerChecker decides whether an automatic rebalance is worthwhile.
// Three gates apply in order: the minimum interval since the last rebalance,
// advisory coverage of deployed debt, and a projected blended-yield
// improvement above the configured threshold. The coverage gate exists
// because a thin data slice can fake an "improvement" by only quoting the
// strategies it happens to favor.
type TriggerChecker struct {
	log zerolog.Logger
}

// NewTriggerChecker creates a new trigger checker.
func NewTriggerChecker(log zerolog.Logger) *TriggerChecker {
	return &TriggerChecker{
		log: log.With().Str("component", "rebalancing_triggers").Logger(),
	}
}

// Check evaluates the trigger gates against the current ledger and a
// computed target plan. smoothedAPYs maps strategy id to its EMA-smoothed
// yield estimate (a fraction, 0.05 = 5% APY) for every plan candidate.
func (tc *TriggerChecker) Check(
	l *ledger.Ledger,
	plan allocation.Plan,
	candidates []allocation.Candidate,
	smoothedAPYs map[string]float64,
	params settings.RebalanceParams,
	now int64,
) *TriggerResult {
	if elapsed := now - l.LastRebalanceAt(); elapsed < params.MinIntervalSecs {
		return &TriggerResult{
			Reason: fmt.Sprintf("minimum interval not elapsed (%ds of %ds)", elapsed, params.MinIntervalSecs),
		}
	}

	coverageBps := tc.coverageBps(l, candidates)
	if coverageBps < params.CoverageThresholdBps {
		return &TriggerResult{
			Reason: fmt.Sprintf("advisory coverage %d bps below threshold %d bps", coverageBps, params.CoverageThresholdBps),
		}
	}

	if len(plan.Strategies) == 0 {
		return &TriggerResult{Reason: "no allocation targets"}
	}

	improvement := tc.projectedImprovementBps(l, plan, smoothedAPYs)
	if improvement < int64(params.ImprovementThresholdBps) {
		return &TriggerResult{
			ImprovementBps: improvement,
			Reason:         fmt.Sprintf("projected improvement %d bps below threshold %d bps", improvement, params.ImprovementThresholdBps),
		}
	}

	return &TriggerResult{
		ShouldRebalance: true,
		ImprovementBps:  improvement,
		Reason:          "beneficial",
	}
}

// coverageBps returns how much of the deployed debt is covered by fresh
// advisory quotes, in basis points. An empty book counts as full coverage.
func (tc *TriggerChecker) coverageBps(l *ledger.Ledger, candidates []allocation.Candidate) uint64 {
	total := l.TotalDebt()
	if total == 0 {
		return ledger.MaxBps
	}
	var covered uint64
	for _, c := range candidates {
		if entry, ok := l.Strategy(c.ID); ok {
			covered += entry.Debt
		}
	}
	return ledger.MulDiv(covered, ledger.MaxBps, total)
}

// projectedImprovementBps compares the blended yield of the current debt
// distribution against the plan's target distribution, both priced with the
// same smoothed APYs so the comparison measures reallocation, not data
// drift.
func (tc *TriggerChecker) projectedImprovementBps(l *ledger.Ledger, plan allocation.Plan, smoothedAPYs map[string]float64) int64 {
	deployable := l.TotalAssets()
	if deployable == 0 {
		return 0
	}

	var current float64
	for _, entry := range l.Strategies() {
		apy, ok := smoothedAPYs[entry.ID]
		if !ok || entry.Debt == 0 {
			continue
		}
		current += apy * float64(entry.Debt) / float64(deployable)
	}

	var projected float64
	for i, id := range plan.Strategies {
		apy, ok := smoothedAPYs[id]
		if !ok {
			continue
		}
		projected += apy * float64(plan.TargetBps[i]) / float64(ledger.MaxBps)
	}

	return int64((projected - current) * float64(ledger.MaxBps))
}
