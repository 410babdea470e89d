package profitlock

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/steward/internal/modules/ledger"
)

func newCalc() *Calculator {
	return NewCalculator(zerolog.Nop())
}

// degradationRate that fully unlocks profit after 1,000 seconds.
const testRate = 0.001

func TestPerformanceFeeSplit(t *testing.T) {
	c := newCalc()

	fee, net := c.PerformanceFee(5_000, 1_000)
	assert.Equal(t, uint64(500), fee)
	assert.Equal(t, uint64(4_500), net)

	fee, net = c.PerformanceFee(5_000, 0)
	assert.Zero(t, fee)
	assert.Equal(t, uint64(5_000), net)

	fee, net = c.PerformanceFee(0, 1_000)
	assert.Zero(t, fee)
	assert.Zero(t, net)

	// The fee can never exceed the gain itself.
	fee, net = c.PerformanceFee(3, ledger.MaxPerformanceFeeBps)
	assert.LessOrEqual(t, fee, uint64(3))
	assert.Equal(t, uint64(3), fee+net)
}

func TestLockedProfitLinearDecay(t *testing.T) {
	c := newCalc()
	l := ledger.New("USDC")
	l.SetLockedProfitDegradation(testRate)
	l.AddIdle(100_000)

	l.SetLockedProfit(4_500, 1_000)

	// Immediately after the report the full gain is locked.
	assert.Equal(t, uint64(4_500), c.RemainingLocked(l, 1_000))
	assert.Equal(t, uint64(95_500), c.FreeFunds(l, 1_000))

	// Halfway through the unlock window half is free.
	assert.Equal(t, uint64(2_250), c.RemainingLocked(l, 1_500))
	assert.Equal(t, uint64(97_750), c.FreeFunds(l, 1_500))

	// After the full window everything is free.
	assert.Zero(t, c.RemainingLocked(l, 2_000))
	assert.Equal(t, uint64(100_000), c.FreeFunds(l, 2_000))
	assert.Zero(t, c.RemainingLocked(l, 50_000))
}

func TestFreeFundsExcludeFreshGain(t *testing.T) {
	// Report gain=5,000 under a 10% performance fee: 500 goes to the fee
	// recipient, 4,500 locks. A depositor arriving right after prices in
	// none of the fresh gain.
	c := newCalc()
	l := ledger.New("USDC")
	l.SetLockedProfitDegradation(testRate)
	l.AddIdle(100_000)

	fee, net := c.PerformanceFee(5_000, 1_000)
	assert.Equal(t, uint64(500), fee)
	l.AddIdle(5_000)
	c.LockGain(l, net, 1_000)

	assert.Equal(t, uint64(105_000-4_500), c.FreeFunds(l, 1_000))
	assert.Equal(t, uint64(105_000), c.FreeFunds(l, 2_000))
}

func TestLockGainCarriesRemainder(t *testing.T) {
	c := newCalc()
	l := ledger.New("USDC")
	l.SetLockedProfitDegradation(testRate)

	c.LockGain(l, 1_000, 0)
	// Half of the first gain is still locked when the second arrives.
	c.LockGain(l, 2_000, 500)
	assert.Equal(t, uint64(2_500), l.LockedProfit())
	assert.Equal(t, int64(500), l.LastReportAt())
}

func TestReduceLockAbsorbsLoss(t *testing.T) {
	c := newCalc()
	l := ledger.New("USDC")
	l.SetLockedProfitDegradation(testRate)

	c.LockGain(l, 3_000, 0)
	c.ReduceLock(l, 1_000, 0)
	assert.Equal(t, uint64(2_000), l.LockedProfit())

	// Losses beyond the buffer zero it, never underflow.
	c.ReduceLock(l, 10_000, 0)
	assert.Zero(t, l.LockedProfit())
}

func TestZeroDegradationKeepsProfitLocked(t *testing.T) {
	c := newCalc()
	l := ledger.New("USDC")
	l.SetLockedProfit(4_500, 0)

	assert.Equal(t, uint64(4_500), c.RemainingLocked(l, 1<<40))
}

func TestManagementFeeProRata(t *testing.T) {
	c := newCalc()

	// 2% on 1,000,000 over a full year.
	fee := c.ManagementFee(1_000_000, 200, ledger.SecondsPerYear)
	assert.Equal(t, uint64(20_000), fee)

	// Half a year accrues half the fee.
	fee = c.ManagementFee(1_000_000, 200, ledger.SecondsPerYear/2)
	assert.Equal(t, uint64(10_000), fee)

	assert.Zero(t, c.ManagementFee(0, 200, ledger.SecondsPerYear))
	assert.Zero(t, c.ManagementFee(1_000_000, 0, ledger.SecondsPerYear))
	assert.Zero(t, c.ManagementFee(1_000_000, 200, 0))
}

func TestAccrueManagementFeeAdvancesClock(t *testing.T) {
	c := newCalc()
	l := ledger.New("USDC")
	l.AddIdle(1_000_000)
	_ = l.SetManagementFeeBps(200)

	// First call only arms the clock.
	assert.Zero(t, c.AccrueManagementFee(l, 1_000))
	assert.Equal(t, int64(1_000), l.LastFeeAccrualAt())

	fee := c.AccrueManagementFee(l, 1_000+int64(ledger.SecondsPerYear))
	assert.Equal(t, uint64(20_000), fee)
	assert.Equal(t, 1_000+int64(ledger.SecondsPerYear), l.LastFeeAccrualAt())

	// A tick too short to earn anything still advances the clock.
	tick := l.LastFeeAccrualAt() + 1
	assert.Zero(t, c.AccrueManagementFee(l, tick))
	assert.Equal(t, tick, l.LastFeeAccrualAt())
}

func TestFeeClockIndependentOfReportClock(t *testing.T) {
	c := newCalc()
	l := ledger.New("USDC")
	l.SetLockedProfitDegradation(testRate)
	l.AddIdle(1_000_000)
	_ = l.SetManagementFeeBps(200)

	assert.Zero(t, c.AccrueManagementFee(l, 1_000))
	c.LockGain(l, 5_000, 2_000)

	// Locking profit moved the report clock but not the fee clock.
	assert.Equal(t, int64(2_000), l.LastReportAt())
	assert.Equal(t, int64(1_000), l.LastFeeAccrualAt())
}

func TestSharePricing(t *testing.T) {
	c := newCalc()
	l := ledger.New("USDC")
	l.AddIdle(200_000)

	// Empty vault prices 1:1.
	assert.Equal(t, uint64(1_000), c.SharesForAmount(l, 0, 1_000, 0))
	assert.Equal(t, uint64(1_000), c.SharePrice(l, 0, 1_000, 0))

	// 100,000 shares over 200,000 free funds: 2 underlying per share.
	assert.Equal(t, uint64(500), c.SharesForAmount(l, 100_000, 1_000, 0))
	assert.Equal(t, uint64(2_000), c.SharePrice(l, 100_000, 1_000, 0))

	// Locked profit is excluded from the rate.
	l.SetLockedProfitDegradation(testRate)
	l.SetLockedProfit(100_000, 0)
	assert.Equal(t, uint64(1_000), c.SharesForAmount(l, 100_000, 1_000, 0))
	assert.Equal(t, uint64(1_000), c.SharePrice(l, 100_000, 1_000, 0))
}
