// Package rebalancing redistributes deployed capital across strategies
// according to advisory-driven allocation targets, under governance ratio
// caps and a bounded loss budget. A rebalance either completes fully or
// rolls the ledger back to its pre-rebalance state.
package rebalancing

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/modules/allocation"
	"github.com/aristath/steward/internal/modules/ledger"
	"github.com/aristath/steward/internal/modules/settings"
	"github.com/aristath/steward/pkg/formulas"
)

// Rebalance errors.
var (
	ErrTooSoon            = errors.New("minimum rebalance interval has not elapsed")
	ErrLossBudgetExceeded = errors.New("rebalance loss exceeds the configured budget")
	ErrAdvisoryFailed     = errors.New("advisory source unavailable")
)

// Outcome summarizes an executed rebalance.
type Outcome struct {
	Moved          uint64                `json:"moved"`
	Loss           uint64                `json:"loss"`
	ImprovementBps int64                 `json:"improvement_bps"`
	TargetCount    int                   `json:"target_count"`
	Rejected       []allocation.Rejected `json:"rejected,omitempty"`
}

// Service orchestrates rebalancing: it pulls candidates from the advisory
// source, filters and scores them, and moves debt in two phases (shrink
// then grow) against the ledger. The ledger itself stays owned by the
// caller; Service never persists it.
type Service struct {
	advisory       domain.AdvisorySource
	history        *ledger.Repository
	settings       *settings.Service
	triggerChecker *TriggerChecker
	log            zerolog.Logger
}

// NewService creates a rebalancing service.
func NewService(
	advisory domain.AdvisorySource,
	history *ledger.Repository,
	settingsSvc *settings.Service,
	triggerChecker *TriggerChecker,
	log zerolog.Logger,
) *Service {
	return &Service{
		advisory:       advisory,
		history:        history,
		settings:       settingsSvc,
		triggerChecker: triggerChecker,
		log:            log.With().Str("service", "rebalancing").Logger(),
	}
}

// ShouldRebalance reports whether an automatic rebalance is currently
// worthwhile. It never mutates the ledger.
func (s *Service) ShouldRebalance(l *ledger.Ledger, now int64) (*TriggerResult, error) {
	params, err := s.settings.Rebalance()
	if err != nil {
		return nil, fmt.Errorf("failed to load rebalance parameters: %w", err)
	}

	plan, candidates, _, smoothed, err := s.buildPlan(l, now)
	if err != nil {
		return nil, err
	}

	return s.triggerChecker.Check(l, plan, candidates, smoothed, params, now), nil
}

// Execute performs a full rebalance. The rate limit applies with no side
// effects; every other failure restores the ledger snapshot. Returns the
// outcome on success.
func (s *Service) Execute(l *ledger.Ledger, strategies map[string]domain.Strategy, now int64) (*Outcome, error) {
	params, err := s.settings.Rebalance()
	if err != nil {
		return nil, fmt.Errorf("failed to load rebalance parameters: %w", err)
	}
	if elapsed := now - l.LastRebalanceAt(); elapsed < params.MinIntervalSecs {
		return nil, fmt.Errorf("%w: %ds of %ds", ErrTooSoon, elapsed, params.MinIntervalSecs)
	}

	plan, candidates, rejected, smoothed, err := s.buildPlan(l, now)
	if err != nil {
		return nil, err
	}

	improvement := s.triggerChecker.projectedImprovementBps(l, plan, smoothed)

	snap, err := l.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to checkpoint ledger before rebalance: %w", err)
	}

	outcome, err := s.applyPlan(l, strategies, plan, params)
	if err == nil {
		err = l.CheckInvariants()
	}
	if err != nil {
		if restoreErr := l.Restore(snap); restoreErr != nil {
			return nil, fmt.Errorf("%w (and rollback failed: %v)", err, restoreErr)
		}
		return nil, err
	}

	for _, c := range candidates {
		if _, ok := l.Strategy(c.ID); ok {
			_ = l.SetCachedQuote(c.ID, c.Quote.APY, c.Quote.RiskScore)
		}
	}
	l.SetLastRebalanceAt(now)

	outcome.ImprovementBps = improvement
	outcome.TargetCount = len(plan.Strategies)
	outcome.Rejected = rejected

	if s.history != nil {
		record := ledger.RebalanceRecord{
			Moved:          outcome.Moved,
			Loss:           outcome.Loss,
			ImprovementBps: improvement,
			Strategies:     len(plan.Strategies),
			CreatedAt:      now,
		}
		if _, err := s.history.InsertRebalance(record); err != nil {
			s.log.Warn().Err(err).Msg("Failed to record rebalance audit row")
		}
	}

	s.log.Info().
		Uint64("moved", outcome.Moved).
		Uint64("loss", outcome.Loss).
		Int64("improvement_bps", improvement).
		Int("targets", len(plan.Strategies)).
		Msg("Rebalance executed")

	return outcome, nil
}

// SyncQuotes fetches current advisory quotes, stores APY observations for
// smoothing and refreshes the cached quote on each registered strategy.
// Intended to run on a schedule between rebalances.
func (s *Service) SyncQuotes(l *ledger.Ledger, now int64) error {
	ids, quotes, err := s.advisory.GetCandidates(l.Asset())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdvisoryFailed, err)
	}
	for i, id := range ids {
		if i >= len(quotes) {
			break
		}
		if _, ok := l.Strategy(id); !ok {
			continue
		}
		_ = l.SetCachedQuote(id, quotes[i].APY, quotes[i].RiskScore)
		if s.history != nil {
			if err := s.history.InsertAPYObservation(id, quotes[i].APY, now); err != nil {
				s.log.Warn().Err(err).Str("strategy", id).Msg("Failed to store APY observation")
			}
		}
	}
	return nil
}

// buildPlan fetches and filters advisory candidates, smooths their yields
// and computes allocation targets.
func (s *Service) buildPlan(l *ledger.Ledger, now int64) (allocation.Plan, []allocation.Candidate, []allocation.Rejected, map[string]float64, error) {
	allocParams, err := s.settings.Allocation()
	if err != nil {
		return allocation.Plan{}, nil, nil, nil, fmt.Errorf("failed to load allocation parameters: %w", err)
	}
	rebalParams, err := s.settings.Rebalance()
	if err != nil {
		return allocation.Plan{}, nil, nil, nil, fmt.Errorf("failed to load rebalance parameters: %w", err)
	}

	ids, quotes, err := s.advisory.GetCandidates(l.Asset())
	if err != nil {
		return allocation.Plan{}, nil, nil, nil, fmt.Errorf("%w: %v", ErrAdvisoryFailed, err)
	}
	maxAge, err := s.advisory.MaxQuoteAge(l.Asset())
	if err != nil {
		return allocation.Plan{}, nil, nil, nil, fmt.Errorf("%w: %v", ErrAdvisoryFailed, err)
	}

	candidates, rejected := allocation.FilterQuotes(ids, quotes, allocation.FilterConfig{
		Now:           time.Unix(now, 0),
		MaxAge:        maxAge,
		MinConfidence: allocParams.MinConfidence,
		IsRegistered: func(id string) bool {
			entry, ok := l.Strategy(id)
			return ok && entry.Registered()
		},
	})
	for _, r := range rejected {
		s.log.Debug().Str("strategy", r.ID).Str("reason", r.Reason).Msg("Advisory candidate rejected")
	}

	smoothed := s.smoothedAPYs(candidates, rebalParams.APYSmoothingPeriod)

	// Score on the smoothed yields so one optimistic quote cannot swing
	// the whole allocation.
	scored := make([]allocation.Candidate, len(candidates))
	for i, c := range candidates {
		scored[i] = c
		scored[i].Quote.APY = smoothed[c.ID]
	}

	plan := allocation.ComputeTargets(scored, allocation.Config{
		Power:            allocParams.Power,
		MaxStrategyBps:   allocParams.MaxStrategyBps,
		DustThresholdBps: allocParams.DustThresholdBps,
	})

	return plan, candidates, rejected, smoothed, nil
}

// smoothedAPYs returns the EMA-smoothed APY per candidate, falling back to
// the raw quote when no history exists.
func (s *Service) smoothedAPYs(candidates []allocation.Candidate, period int) map[string]float64 {
	smoothed := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		smoothed[c.ID] = c.Quote.APY
		if s.history == nil || period <= 1 {
			continue
		}
		observations, err := s.history.RecentAPYs(c.ID, period*3)
		if err != nil {
			s.log.Warn().Err(err).Str("strategy", c.ID).Msg("Failed to load APY history")
			continue
		}
		if len(observations) > 0 {
			smoothed[c.ID] = formulas.SmoothedAPY(append(observations, c.Quote.APY), period)
		}
	}
	return smoothed
}

// applyPlan moves debt toward the plan targets. Phase 1 shrinks every
// over-target strategy (including winding non-targets to zero), phase 2
// grows under-target strategies from idle funds. Governance ratio caps bind
// throughout: the effective target is the lower of the plan share and the
// strategy's configured cap.
func (s *Service) applyPlan(l *ledger.Ledger, strategies map[string]domain.Strategy, plan allocation.Plan, params settings.RebalanceParams) (*Outcome, error) {
	outcome := &Outcome{}
	deployable := l.TotalAssets()

	targets := make(map[string]uint64)
	for _, entry := range l.Strategies() {
		if !entry.Registered() {
			continue
		}
		effectiveBps := minU64(plan.TargetFor(entry.ID), entry.DebtRatioBps)
		targets[entry.ID] = ledger.MulDiv(deployable, effectiveBps, ledger.MaxBps)
	}

	// Phase 1: shrink. Losses accumulate against a budget proportional to
	// the debt actually being moved.
	var shrunk uint64
	for _, id := range l.Queue() {
		entry, ok := l.Strategy(id)
		if !ok || !entry.Registered() || entry.Debt <= targets[id] {
			continue
		}
		strat, ok := strategies[id]
		if !ok {
			continue
		}

		delta := entry.Debt - targets[id]
		if ceiling, err := strat.MaxLiquidatable(); err == nil {
			delta = minU64(delta, ceiling)
		}
		if delta == 0 {
			continue
		}

		// A failed withdrawal here aborts the whole rebalance: debt was
		// supposed to move and its state is now unknowable.
		loss, err := strat.Withdraw(delta)
		if err != nil {
			return nil, fmt.Errorf("failed to shrink strategy %s by %d: %w", id, delta, err)
		}
		if loss > delta {
			return nil, fmt.Errorf("strategy %s reported loss %d above requested %d", id, loss, delta)
		}

		repaid := delta - loss
		if err := l.DecreaseDebt(id, repaid); err != nil {
			return nil, err
		}
		if loss > 0 {
			if err := l.RecordLoss(id, loss); err != nil {
				return nil, err
			}
		}
		l.AddIdle(repaid)

		shrunk += delta
		outcome.Moved += repaid
		outcome.Loss += loss

		budget := ledger.MulDiv(shrunk, params.MaxLossBps, ledger.MaxBps)
		if outcome.Loss > budget {
			return nil, fmt.Errorf("%w: loss %d budget %d", ErrLossBudgetExceeded, outcome.Loss, budget)
		}
	}

	// Phase 2: grow from idle, bounded by each strategy's credit line.
	for _, id := range plan.Strategies {
		entry, ok := l.Strategy(id)
		if !ok || !entry.Registered() || targets[id] <= entry.Debt {
			continue
		}
		if _, ok := strategies[id]; !ok {
			continue
		}

		delta := minU64(targets[id]-entry.Debt, l.CreditAvailable(id))
		if delta == 0 {
			continue
		}
		if err := l.SubIdle(delta); err != nil {
			return nil, err
		}
		if err := l.IncreaseDebt(id, delta); err != nil {
			return nil, err
		}
		outcome.Moved += delta
	}

	return outcome, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
