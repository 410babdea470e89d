// Package profitlock implements the anti-dilution locked-profit model and
// the fee schedule. Reported gains unlock linearly over time so a deposit
// landing right after a profitable report cannot capture the gain, and a
// withdrawal right after cannot be diluted by it. Management fees accrue on
// a clock separate from the profit-lock clock.
package profitlock

import (
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/ledger"
)

// Calculator derives free funds, fee amounts and lock updates from ledger
// state. It holds no state of its own; every method is a pure function of
// its inputs so previews and live runs agree.
type Calculator struct {
	log zerolog.Logger
}

// NewCalculator creates a profit lock calculator.
func NewCalculator(log zerolog.Logger) *Calculator {
	return &Calculator{log: log.With().Str("component", "profitlock").Logger()}
}

// RemainingLocked returns the still-locked portion of the last reported
// profit at the given instant. The lock decays linearly: after
// elapsed*degradationRate >= 1 nothing remains locked.
func (c *Calculator) RemainingLocked(l *ledger.Ledger, now int64) uint64 {
	locked := l.LockedProfit()
	if locked == 0 {
		return 0
	}
	elapsed := now - l.LastReportAt()
	if elapsed <= 0 {
		return locked
	}
	rate := l.LockedProfitDegradation()
	if rate <= 0 {
		return locked
	}
	unlocked := float64(elapsed) * rate
	if unlocked >= 1 {
		return 0
	}
	return uint64(float64(locked) * (1 - unlocked))
}

// FreeFunds returns total assets minus the still-locked profit. Exchange
// rate computations use only free funds.
func (c *Calculator) FreeFunds(l *ledger.Ledger, now int64) uint64 {
	total := l.TotalAssets()
	locked := c.RemainingLocked(l, now)
	if locked >= total {
		return 0
	}
	return total - locked
}

// SharePrice returns the amount of underlying backing `shares` shares at
// the current free-funds exchange rate. With no supply the price is 1:1.
func (c *Calculator) SharePrice(l *ledger.Ledger, totalSupply, shares uint64, now int64) uint64 {
	if totalSupply == 0 {
		return shares
	}
	return ledger.MulDiv(shares, c.FreeFunds(l, now), totalSupply)
}

// SharesForAmount returns the shares a deposit of `amount` buys at the
// current free-funds exchange rate. The first deposit is 1:1.
func (c *Calculator) SharesForAmount(l *ledger.Ledger, totalSupply, amount uint64, now int64) uint64 {
	if totalSupply == 0 {
		return amount
	}
	free := c.FreeFunds(l, now)
	if free == 0 {
		return amount
	}
	return ledger.MulDiv(amount, totalSupply, free)
}

// PerformanceFee splits a reported gain into the fee taken and the net gain
// locked for holders. feeBps comes from the strategy's override when set,
// otherwise the vault default.
func (c *Calculator) PerformanceFee(gain, feeBps uint64) (fee, netGain uint64) {
	if gain == 0 || feeBps == 0 {
		return 0, gain
	}
	fee = ledger.MulDiv(gain, feeBps, ledger.MaxBps)
	if fee > gain {
		fee = gain
	}
	return fee, gain - fee
}

// ManagementFee returns the pro-rated management fee over the elapsed
// window: totalAssets * feeBps * elapsedSeconds / (10000 * secondsPerYear).
func (c *Calculator) ManagementFee(totalAssets, feeBps uint64, elapsedSeconds int64) uint64 {
	if totalAssets == 0 || feeBps == 0 || elapsedSeconds <= 0 {
		return 0
	}
	annual := ledger.MulDiv(totalAssets, feeBps, ledger.MaxBps)
	return ledger.MulDiv(annual, uint64(elapsedSeconds), ledger.SecondsPerYear)
}

// LockGain adds a freshly reported net gain to the remaining locked profit
// and restarts the unlock clock. The previously locked remainder carries
// over so back-to-back reports do not prematurely release earlier gains.
func (c *Calculator) LockGain(l *ledger.Ledger, netGain uint64, now int64) {
	remaining := c.RemainingLocked(l, now)
	l.SetLockedProfit(remaining+netGain, now)
}

// ReduceLock removes realized losses from the locked profit buffer before
// they hit free funds, mirroring how gains entered it.
func (c *Calculator) ReduceLock(l *ledger.Ledger, loss uint64, now int64) {
	remaining := c.RemainingLocked(l, now)
	if loss >= remaining {
		l.SetLockedProfit(0, now)
		return
	}
	l.SetLockedProfit(remaining-loss, now)
}

// AccrueManagementFee computes the fee owed since the last accrual and
// advances the fee clock. The clock moves even when the fee rounds to zero,
// keeping the accrual window honest. The fee clock is deliberately separate
// from the profit-lock clock.
func (c *Calculator) AccrueManagementFee(l *ledger.Ledger, now int64) uint64 {
	last := l.LastFeeAccrualAt()
	if last == 0 {
		l.SetLastFeeAccrualAt(now)
		return 0
	}
	elapsed := now - last
	if elapsed <= 0 {
		return 0
	}
	fee := c.ManagementFee(l.TotalAssets(), l.ManagementFeeBps(), elapsed)
	l.SetLastFeeAccrualAt(now)
	if fee > 0 {
		c.log.Debug().
			Uint64("fee", fee).
			Int64("elapsed_seconds", elapsed).
			Msg("Accrued management fee")
	}
	return fee
}
