// Package liquidation implements greedy multi-strategy withdrawal: idle
// funds first, then strategies in strict queue order until the request is
// satisfied or the queue is exhausted. Previews run the identical traversal
// without side effects.
package liquidation

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/modules/ledger"
)

// Liquidity errors. Fatal to the requested operation; the ledger is restored
// to its pre-operation state before they are returned.
var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity to satisfy withdrawal")
	ErrLossThresholdExceeded = errors.New("realized loss exceeds the configured threshold")
	ErrLossExceedsRequested  = errors.New("strategy reported loss greater than the requested amount")
)

// StrategyWithdrawal is the per-strategy breakdown of a liquidation pass.
type StrategyWithdrawal struct {
	StrategyID string `json:"strategy_id"`
	Requested  uint64 `json:"requested"`
	Repaid     uint64 `json:"repaid"`
	Loss       uint64 `json:"loss"`
}

// Result is the outcome of a liquidation pass. For previews, Shortfall is
// the structured "could not free enough" value; live runs fail instead of
// returning a shortfall.
type Result struct {
	Freed       uint64               `json:"freed"`
	Loss        uint64               `json:"loss"`
	Shortfall   uint64               `json:"shortfall"`
	Withdrawals []StrategyWithdrawal `json:"withdrawals,omitempty"`
}

// Engine drains liquidity through the withdrawal queue.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a liquidation engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "liquidation").Logger()}
}

// Withdraw frees `amount` of the underlying into idle funds, draining
// strategies in queue order. Debt decreases only by what each strategy
// actually repaid; losses are accumulated and checked against maxLossBps of
// the requested amount. On any fatal condition the ledger is restored and
// the whole operation fails with no partial effect.
func (e *Engine) Withdraw(l *ledger.Ledger, strategies map[string]domain.Strategy, amount, maxLossBps uint64) (Result, error) {
	if amount == 0 {
		return Result{}, nil
	}
	if l.Idle() >= amount {
		return Result{Freed: amount}, nil
	}

	snap, err := l.Snapshot()
	if err != nil {
		return Result{}, fmt.Errorf("failed to checkpoint ledger before withdrawal: %w", err)
	}

	res, err := e.traverse(l, strategies, amount, maxLossBps, true)
	if err != nil {
		if restoreErr := l.Restore(snap); restoreErr != nil {
			// Restoring an in-memory snapshot we just took cannot fail unless
			// memory is corrupt; surface both.
			return Result{}, fmt.Errorf("%w (and rollback failed: %v)", err, restoreErr)
		}
		return Result{}, err
	}

	if res.Freed < amount {
		if restoreErr := l.Restore(snap); restoreErr != nil {
			return Result{}, fmt.Errorf("%w (and rollback failed: %v)", ErrInsufficientLiquidity, restoreErr)
		}
		e.log.Warn().
			Uint64("requested", amount).
			Uint64("freed", res.Freed).
			Msg("Withdrawal failed: queue exhausted before request was satisfied")
		return Result{}, fmt.Errorf("%w: requested %d, freed %d", ErrInsufficientLiquidity, amount, res.Freed)
	}

	return res, nil
}

// Preview runs the same traversal without mutating the ledger or calling
// Strategy.Withdraw. Losses are estimated pro rata from each strategy's own
// asset estimate. Repeated calls on unchanged state return identical
// results, and a preview immediately followed by real execution matches its
// freed/loss totals when the strategies' reported losses match their
// estimates.
func (e *Engine) Preview(l *ledger.Ledger, strategies map[string]domain.Strategy, amount uint64) Result {
	if amount == 0 {
		return Result{}
	}
	if l.Idle() >= amount {
		return Result{Freed: amount}
	}
	res, _ := e.traverse(l, strategies, amount, 0, false)
	if res.Freed < amount {
		res.Shortfall = amount - res.Freed
	}
	return res
}

// EstimateLoss returns the estimated realized loss for withdrawing amount.
func (e *Engine) EstimateLoss(l *ledger.Ledger, strategies map[string]domain.Strategy, amount uint64) uint64 {
	return e.Preview(l, strategies, amount).Loss
}

// traverse is the single greedy implementation behind both the live
// withdrawal and the preview. execute=false estimates losses and leaves the
// ledger untouched.
func (e *Engine) traverse(l *ledger.Ledger, strategies map[string]domain.Strategy, amount, maxLossBps uint64, execute bool) (Result, error) {
	res := Result{Freed: l.Idle()}
	remaining := amount - res.Freed

	lossBudget := uint64(0)
	if maxLossBps > 0 {
		lossBudget = ledger.MulDiv(amount, maxLossBps, ledger.MaxBps)
	}

	for _, id := range l.Queue() {
		if remaining == 0 {
			break
		}
		entry, ok := l.Strategy(id)
		if !ok || !entry.Registered() || entry.Debt == 0 {
			continue
		}
		strat, ok := strategies[id]
		if !ok {
			continue
		}

		toWithdraw := minU64(remaining, entry.Debt)
		// Best-effort liquidatable ceiling: a failure means no ceiling known.
		if ceiling, err := strat.MaxLiquidatable(); err == nil {
			toWithdraw = minU64(toWithdraw, ceiling)
		}
		if toWithdraw == 0 {
			continue
		}

		var loss uint64
		if execute {
			var err error
			loss, err = strat.Withdraw(toWithdraw)
			if err != nil {
				// No funds moved, no accounting changed: skip and keep
				// draining the rest of the queue.
				e.log.Warn().Err(err).Str("strategy", id).Msg("Strategy withdrawal call failed, skipping")
				continue
			}
			if loss > toWithdraw {
				return res, fmt.Errorf("%w: strategy %s loss %d requested %d", ErrLossExceedsRequested, id, loss, toWithdraw)
			}
		} else {
			loss = estimateLoss(strat, entry.Debt, toWithdraw)
		}

		repaid := toWithdraw - loss
		if execute {
			// Debt shrinks by what actually came back, never by what was
			// asked for.
			if err := l.DecreaseDebt(id, repaid); err != nil {
				return res, err
			}
			if loss > 0 {
				if err := l.RecordLoss(id, loss); err != nil {
					return res, err
				}
			}
			l.AddIdle(repaid)
		}

		res.Freed += repaid
		res.Loss += loss
		remaining -= minU64(repaid, remaining)
		res.Withdrawals = append(res.Withdrawals, StrategyWithdrawal{
			StrategyID: id,
			Requested:  toWithdraw,
			Repaid:     repaid,
			Loss:       loss,
		})

		if lossBudget > 0 && res.Loss > lossBudget {
			return res, fmt.Errorf("%w: loss %d budget %d", ErrLossThresholdExceeded, res.Loss, lossBudget)
		}
	}

	if res.Freed > amount {
		res.Freed = amount
	}
	return res, nil
}

// estimateLoss projects the loss of withdrawing toWithdraw from a strategy
// whose own estimate of holdings may fall short of its recorded debt. The
// shortfall is applied pro rata to the withdrawn portion. A failed estimate
// defaults to no loss (best-effort query, defined default on failure).
func estimateLoss(strat domain.Strategy, debt, toWithdraw uint64) uint64 {
	estimated, err := strat.EstimatedTotalAssets()
	if err != nil || debt == 0 || estimated >= debt {
		return 0
	}
	return ledger.MulDiv(toWithdraw, debt-estimated, debt)
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
