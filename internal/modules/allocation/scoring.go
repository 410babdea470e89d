// Package allocation provides the pure scoring and normalization math that
// turns advisory yield quotes into a target allocation plan. No ledger state
// is mutated here; governance caps are read as inputs and never altered.
package allocation

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/aristath/steward/internal/domain"
)

// Bps constants mirror the ledger's basis-point arithmetic.
const maxBps = 10_000

// Candidate is one strategy that survived quote filtering.
type Candidate struct {
	ID    string
	Quote domain.YieldQuote
}

// Plan is the ephemeral output of target computation: parallel strategy and
// target slices whose basis points sum to at most 10000.
type Plan struct {
	Strategies []string
	TargetBps  []uint64
}

// TargetFor returns the planned bps for a strategy (0 when absent).
func (p Plan) TargetFor(id string) uint64 {
	for i, s := range p.Strategies {
		if s == id {
			return p.TargetBps[i]
		}
	}
	return 0
}

// Contains reports whether the strategy is part of the target set.
func (p Plan) Contains(id string) bool {
	for _, s := range p.Strategies {
		if s == id {
			return true
		}
	}
	return false
}

// Config tunes the scoring pipeline.
type Config struct {
	// Power dampens churn: scores are raised to this integer power (>= 1)
	// before normalization, skewing allocations toward the best candidates.
	Power int

	// MaxStrategyBps caps any single strategy's share of the plan.
	MaxStrategyBps uint64

	// DustThresholdBps zeroes allocations too small to be worth the debt
	// movement.
	DustThresholdBps uint64
}

// Score is the raw desirability of a candidate: yield weighted by data
// quality, discounted by risk.
func Score(q domain.YieldQuote) float64 {
	if q.RiskScore <= 0 {
		return 0
	}
	return q.APY * q.Confidence / q.RiskScore
}

// ComputeTargets turns filtered candidates into a target plan:
//  1. score each candidate and raise to cfg.Power,
//  2. normalize scores to 10000 bps,
//  3. cap any strategy at cfg.MaxStrategyBps and redistribute the excess
//     among uncapped candidates (respecting their caps),
//  4. zero allocations below the dust threshold and redistribute again.
//
// The result sums to <= 10000 bps; truncation remainders are left
// unallocated rather than rounded up.
func ComputeTargets(candidates []Candidate, cfg Config) Plan {
	if len(candidates) == 0 {
		return Plan{}
	}
	power := cfg.Power
	if power < 1 {
		power = 1
	}
	limit := cfg.MaxStrategyBps
	if limit == 0 || limit > maxBps {
		limit = maxBps
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		s := Score(c.Quote)
		if s <= 0 {
			continue
		}
		scores[i] = math.Pow(s, float64(power))
	}

	total := floats.Sum(scores)
	if total <= 0 {
		return Plan{}
	}

	// Normalize to basis points.
	weights := make([]float64, len(scores))
	copy(weights, scores)
	floats.Scale(maxBps/total, weights)

	weights = capAndRedistribute(weights, float64(limit))
	weights = dustAndRedistribute(weights, float64(cfg.DustThresholdBps), float64(limit))

	plan := Plan{}
	for i, w := range weights {
		bps := uint64(math.Floor(w))
		if bps == 0 {
			continue
		}
		plan.Strategies = append(plan.Strategies, candidates[i].ID)
		plan.TargetBps = append(plan.TargetBps, bps)
	}
	return plan
}

// capAndRedistribute clamps weights to cap and hands the trimmed excess to
// the uncapped weights proportionally. A single redistribution pass can push
// another weight over the cap, so it iterates until stable; with at most one
// clamp per weight this terminates in len(weights) rounds.
func capAndRedistribute(weights []float64, limit float64) []float64 {
	out := make([]float64, len(weights))
	copy(out, weights)

	for round := 0; round < len(out); round++ {
		excess := 0.0
		var uncappedSum float64
		for i, w := range out {
			if w > limit {
				excess += w - limit
				out[i] = limit
			} else if w > 0 && w < limit {
				uncappedSum += w
			}
		}
		if excess == 0 || uncappedSum == 0 {
			break
		}
		scale := excess / uncappedSum
		for i, w := range out {
			if w > 0 && w < limit {
				out[i] = w + w*scale
			}
		}
	}
	// Final clamp in case the last redistribution overshot.
	for i, w := range out {
		if w > limit {
			out[i] = limit
		}
	}
	return out
}

// dustAndRedistribute zeroes weights below the dust threshold and
// redistributes the freed share among the survivors, clamped to cap.
func dustAndRedistribute(weights []float64, dust, limit float64) []float64 {
	out := make([]float64, len(weights))
	copy(out, weights)

	freed := 0.0
	var survivorSum float64
	for i, w := range out {
		if w <= 0 {
			continue
		}
		if w < dust {
			freed += w
			out[i] = 0
		} else {
			survivorSum += w
		}
	}
	if freed == 0 || survivorSum == 0 {
		return out
	}
	scale := freed / survivorSum
	for i, w := range out {
		if w > 0 {
			out[i] = math.Min(w+w*scale, limit)
		}
	}
	return out
}
