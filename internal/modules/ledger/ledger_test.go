package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAsset = "USDC"

func newTestLedger() *Ledger {
	return New(testAsset)
}

func TestRegister_Succeeds(t *testing.T) {
	l := newTestLedger()
	require.NoError(t, l.Register("strat-a", testAsset, 4000, 0, 1_000_000, nil, 100))

	e, ok := l.Strategy("strat-a")
	require.True(t, ok)
	assert.True(t, e.Registered())
	assert.Equal(t, int64(100), e.ActivatedAt)
	assert.Equal(t, uint64(4000), e.DebtRatioBps)
	assert.Equal(t, uint64(0), e.Debt)
	assert.Equal(t, uint64(4000), l.TotalDebtRatioBps())
	assert.Equal(t, []string{"strat-a"}, l.Queue())
	assert.NoError(t, l.CheckInvariants())
}

func TestRegister_Preconditions(t *testing.T) {
	l := newTestLedger()
	require.NoError(t, l.Register("strat-a", testAsset, 4000, 0, 100, nil, 100))

	assert.ErrorIs(t, l.Register("strat-a", testAsset, 100, 0, 100, nil, 100), ErrAlreadyRegistered)
	assert.ErrorIs(t, l.Register("strat-b", "DAI", 100, 0, 100, nil, 100), ErrAssetMismatch)
	assert.ErrorIs(t, l.Register("strat-b", testAsset, 100, 50, 10, nil, 100), ErrMinOverMax)

	highFee := uint64(MaxPerformanceFeeBps + 1)
	assert.ErrorIs(t, l.Register("strat-b", testAsset, 100, 0, 100, &highFee, 100), ErrFeeOverflow)
}

func TestRegister_RatioHeadroomBoundary(t *testing.T) {
	l := newTestLedger()
	require.NoError(t, l.Register("strat-a", testAsset, 6000, 0, 100, nil, 100))

	// One basis point over the remaining headroom fails...
	err := l.Register("strat-b", testAsset, 4001, 0, 100, nil, 100)
	assert.ErrorIs(t, err, ErrRatioOverflow)

	// ...exactly the remaining headroom succeeds.
	require.NoError(t, l.Register("strat-b", testAsset, 4000, 0, 100, nil, 100))
	assert.Equal(t, uint64(MaxBps), l.TotalDebtRatioBps())
	assert.NoError(t, l.CheckInvariants())
}

func TestRegister_QueueFull(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < MaxQueueSize; i++ {
		require.NoError(t, l.Register(stratID(i), testAsset, 0, 0, 100, nil, 100))
	}
	assert.ErrorIs(t, l.Register("one-more", testAsset, 0, 0, 100, nil, 100), ErrQueueFull)
}

func stratID(i int) string {
	return string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestCreditAvailable(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(100_000)
	require.NoError(t, l.Register("strat-a", testAsset, 9000, 0, 1_000_000, nil, 100))

	// Full strategy cap is available: 100_000 * 9000/10000 = 90_000.
	assert.Equal(t, uint64(90_000), l.CreditAvailable("strat-a"))

	// Once deployed, no more headroom.
	require.NoError(t, l.IncreaseDebt("strat-a", 90_000))
	require.NoError(t, l.SubIdle(90_000))
	assert.Equal(t, uint64(0), l.CreditAvailable("strat-a"))
}

func TestCreditAvailable_Bounds(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(100_000)
	require.NoError(t, l.Register("strat-a", testAsset, 5000, 10_000, 20_000, nil, 100))

	// Strategy cap headroom is 50_000 but per-op max clamps to 20_000.
	assert.Equal(t, uint64(20_000), l.CreditAvailable("strat-a"))

	// Below the per-op minimum the credit floors to zero.
	require.NoError(t, l.IncreaseDebt("strat-a", 45_000))
	require.NoError(t, l.SubIdle(45_000))
	// Headroom is 5_000 < minOp 10_000.
	assert.Equal(t, uint64(0), l.CreditAvailable("strat-a"))
}

func TestCreditAvailable_IdleBound(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(1_000)
	require.NoError(t, l.Register("strat-a", testAsset, MaxBps, 0, 1_000_000, nil, 100))
	assert.Equal(t, uint64(1_000), l.CreditAvailable("strat-a"))
}

func TestCreditAvailable_InactiveStrategy(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(100_000)
	require.NoError(t, l.Register("strat-a", testAsset, 9000, 0, 1_000_000, nil, 100))
	assert.Equal(t, uint64(90_000), l.CreditAvailable("strat-a"))

	require.NoError(t, l.SetInactive("strat-a", true))
	assert.Equal(t, uint64(0), l.CreditAvailable("strat-a"))

	require.NoError(t, l.SetInactive("strat-a", false))
	assert.Equal(t, uint64(90_000), l.CreditAvailable("strat-a"))
}

func TestCreditAvailable_ShutdownAndUnregistered(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(100_000)
	require.NoError(t, l.Register("strat-a", testAsset, 5000, 0, 1_000_000, nil, 100))

	assert.Equal(t, uint64(0), l.CreditAvailable("ghost"))

	l.SetEmergencyShutdown(true)
	assert.Equal(t, uint64(0), l.CreditAvailable("strat-a"))
}

func TestDebtOutstanding(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(100_000)
	require.NoError(t, l.Register("strat-a", testAsset, 9000, 0, 1_000_000, nil, 100))
	require.NoError(t, l.IncreaseDebt("strat-a", 90_000))
	require.NoError(t, l.SubIdle(90_000))

	// At cap: nothing outstanding.
	assert.Equal(t, uint64(0), l.DebtOutstanding("strat-a"))

	// Cap shrinks: the excess is outstanding.
	require.NoError(t, l.UpdateRatio("strat-a", 4500))
	assert.Equal(t, uint64(45_000), l.DebtOutstanding("strat-a"))

	// Ratio zero: everything outstanding.
	require.NoError(t, l.Revoke("strat-a"))
	assert.Equal(t, uint64(90_000), l.DebtOutstanding("strat-a"))
}

func TestRevoke_KeepsDebtOnBooks(t *testing.T) {
	// Scenario: governance revokes a strategy holding 90,000 debt. The ratio
	// drops to zero, the aggregate ratio decreases by 9000 bps, and the debt
	// remains until liquidated by a later withdrawal.
	l := newTestLedger()
	l.AddIdle(100_000)
	require.NoError(t, l.Register("strat-a", testAsset, 9000, 0, 1_000_000, nil, 100))
	require.NoError(t, l.IncreaseDebt("strat-a", 90_000))
	require.NoError(t, l.SubIdle(90_000))

	require.NoError(t, l.Revoke("strat-a"))

	e, _ := l.Strategy("strat-a")
	assert.Equal(t, uint64(0), e.DebtRatioBps)
	assert.Equal(t, uint64(0), l.TotalDebtRatioBps())
	assert.Equal(t, uint64(90_000), e.Debt)
	assert.Equal(t, uint64(90_000), l.TotalDebt())
	assert.NoError(t, l.CheckInvariants())

	// Revoked strategies cannot take on new debt.
	assert.ErrorIs(t, l.IncreaseDebt("strat-a", 1), ErrInactiveStrategy)
}

func TestDecreaseDebt_UnderflowIsFatal(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(10_000)
	require.NoError(t, l.Register("strat-a", testAsset, 5000, 0, 1_000_000, nil, 100))
	require.NoError(t, l.IncreaseDebt("strat-a", 5_000))

	err := l.DecreaseDebt("strat-a", 5_001)
	assert.ErrorIs(t, err, ErrDebtUnderflow)

	// Nothing was clamped or applied.
	e, _ := l.Strategy("strat-a")
	assert.Equal(t, uint64(5_000), e.Debt)
	assert.Equal(t, uint64(5_000), l.TotalDebt())
}

func TestSubIdle_UnderflowIsFatal(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(100)
	assert.ErrorIs(t, l.SubIdle(101), ErrIdleUnderflow)
	assert.Equal(t, uint64(100), l.Idle())
}

func TestIncreaseDebt_RequiresAllocatable(t *testing.T) {
	l := newTestLedger()
	require.NoError(t, l.Register("strat-a", testAsset, 5000, 0, 100, nil, 100))

	assert.ErrorIs(t, l.IncreaseDebt("ghost", 1), ErrNotRegistered)

	require.NoError(t, l.SetInactive("strat-a", true))
	assert.ErrorIs(t, l.IncreaseDebt("strat-a", 1), ErrInactiveStrategy)

	require.NoError(t, l.SetInactive("strat-a", false))
	assert.NoError(t, l.IncreaseDebt("strat-a", 1))
}

func TestSetQueue(t *testing.T) {
	l := newTestLedger()
	require.NoError(t, l.Register("strat-a", testAsset, 100, 0, 100, nil, 100))
	require.NoError(t, l.Register("strat-b", testAsset, 100, 0, 100, nil, 100))

	require.NoError(t, l.SetQueue([]string{"strat-b", "strat-a"}))
	assert.Equal(t, []string{"strat-b", "strat-a"}, l.Queue())

	assert.ErrorIs(t, l.SetQueue([]string{"strat-a", "ghost"}), ErrNotRegistered)
	assert.ErrorIs(t, l.SetQueue([]string{"strat-a", "strat-a"}), ErrQueueDuplicate)
}

func TestUpdateRatio_Overflow(t *testing.T) {
	l := newTestLedger()
	require.NoError(t, l.Register("strat-a", testAsset, 6000, 0, 100, nil, 100))
	require.NoError(t, l.Register("strat-b", testAsset, 3000, 0, 100, nil, 100))

	assert.ErrorIs(t, l.UpdateRatio("strat-b", 4001), ErrRatioOverflow)
	require.NoError(t, l.UpdateRatio("strat-b", 4000))
	assert.Equal(t, uint64(MaxBps), l.TotalDebtRatioBps())
}

func TestInvariants_HoldAcrossMutation(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(1_000_000)
	require.NoError(t, l.Register("strat-a", testAsset, 4000, 0, 1_000_000, nil, 100))
	require.NoError(t, l.Register("strat-b", testAsset, 3000, 0, 1_000_000, nil, 100))

	require.NoError(t, l.IncreaseDebt("strat-a", 400_000))
	require.NoError(t, l.SubIdle(400_000))
	require.NoError(t, l.CheckInvariants())

	require.NoError(t, l.IncreaseDebt("strat-b", 250_000))
	require.NoError(t, l.SubIdle(250_000))
	require.NoError(t, l.CheckInvariants())

	require.NoError(t, l.DecreaseDebt("strat-a", 100_000))
	l.AddIdle(100_000)
	require.NoError(t, l.CheckInvariants())

	require.NoError(t, l.Revoke("strat-b"))
	require.NoError(t, l.CheckInvariants())

	assert.Equal(t, uint64(550_000), l.TotalDebt())
	assert.Equal(t, uint64(1_000_000), l.TotalAssets())
}

func TestMulDiv(t *testing.T) {
	assert.Equal(t, uint64(90_000), MulDiv(100_000, 9000, MaxBps))
	assert.Equal(t, uint64(0), MulDiv(1, 1, 0))

	// No overflow on values that would wrap in uint64.
	big := uint64(1) << 62
	assert.Equal(t, big/2, MulDiv(big, 5000, MaxBps))
}

func TestPerformanceFeeBps_Override(t *testing.T) {
	override := uint64(500)
	e := &StrategyEntry{ActivatedAt: 1, FeeOverrideBps: &override}
	assert.Equal(t, uint64(500), e.PerformanceFeeBps(1000))

	e.FeeOverrideBps = nil
	assert.Equal(t, uint64(1000), e.PerformanceFeeBps(1000))
}
