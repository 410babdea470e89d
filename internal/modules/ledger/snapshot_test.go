package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(100_000)
	fee := uint64(750)
	require.NoError(t, l.Register("strat-a", testAsset, 9000, 100, 1_000_000, &fee, 100))
	require.NoError(t, l.IncreaseDebt("strat-a", 90_000))
	require.NoError(t, l.SubIdle(90_000))
	l.SetLockedProfit(4_500, 200)
	l.SetLockedProfitDegradation(1.0 / 21_600)
	l.SetDepositLimit(5_000_000)
	require.NoError(t, l.SetPerformanceFeeBps(1000))
	require.NoError(t, l.SetManagementFeeBps(200))
	l.SetLastFeeAccrualAt(150)
	l.SetLastRebalanceAt(120)

	snap, err := l.Snapshot()
	require.NoError(t, err)

	// Mutate after the snapshot.
	require.NoError(t, l.DecreaseDebt("strat-a", 40_000))
	l.AddIdle(40_000)
	require.NoError(t, l.Revoke("strat-a"))
	l.SetEmergencyShutdown(true)

	require.NoError(t, l.Restore(snap))

	assert.Equal(t, uint64(10_000), l.Idle())
	assert.Equal(t, uint64(90_000), l.TotalDebt())
	assert.Equal(t, uint64(9000), l.TotalDebtRatioBps())
	assert.Equal(t, uint64(4_500), l.LockedProfit())
	assert.Equal(t, int64(200), l.LastReportAt())
	assert.Equal(t, int64(150), l.LastFeeAccrualAt())
	assert.Equal(t, int64(120), l.LastRebalanceAt())
	assert.False(t, l.EmergencyShutdown())

	e, ok := l.Strategy("strat-a")
	require.True(t, ok)
	assert.Equal(t, uint64(90_000), e.Debt)
	assert.Equal(t, uint64(9000), e.DebtRatioBps)
	require.NotNil(t, e.FeeOverrideBps)
	assert.Equal(t, uint64(750), *e.FeeOverrideBps)
	assert.Equal(t, []string{"strat-a"}, l.Queue())
	assert.NoError(t, l.CheckInvariants())
}

func TestSnapshot_IsolatedFromLaterMutation(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(1_000)
	require.NoError(t, l.Register("strat-a", testAsset, 1000, 0, 100, nil, 100))

	snap, err := l.Snapshot()
	require.NoError(t, err)

	// Mutating the live entry must not leak into the snapshot bytes.
	require.NoError(t, l.IncreaseDebt("strat-a", 50))

	fresh := New(testAsset)
	require.NoError(t, fresh.Restore(snap))
	e, _ := fresh.Strategy("strat-a")
	assert.Equal(t, uint64(0), e.Debt)
}

func TestRestore_BadPayloadLeavesLedgerUntouched(t *testing.T) {
	l := newTestLedger()
	l.AddIdle(42)
	err := l.Restore([]byte("not msgpack"))
	assert.Error(t, err)
	assert.Equal(t, uint64(42), l.Idle())
}
