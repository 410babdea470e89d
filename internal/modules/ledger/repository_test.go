package ledger

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/database"
)

func testVaultDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "vault.db"),
		Profile: database.ProfileVault,
		Name:    "vault",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRepository_SaveLoadRoundTrip(t *testing.T) {
	db := testVaultDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())

	l := newTestLedger()
	l.AddIdle(100_000)
	fee := uint64(500)
	require.NoError(t, l.Register("strat-a", testAsset, 9000, 10, 1_000_000, &fee, 100))
	require.NoError(t, l.Register("strat-b", testAsset, 500, 0, 50_000, nil, 110))
	require.NoError(t, l.IncreaseDebt("strat-a", 90_000))
	require.NoError(t, l.SubIdle(90_000))
	require.NoError(t, l.RecordGain("strat-a", 5_000))
	require.NoError(t, l.SetCachedQuote("strat-a", 0.07, 2.0))
	require.NoError(t, l.SetInactive("strat-b", true))
	l.SetLockedProfit(4_500, 200)
	l.SetLockedProfitDegradation(1.0 / 21_600)
	l.SetDepositLimit(5_000_000)
	require.NoError(t, l.SetPerformanceFeeBps(1000))
	require.NoError(t, l.SetManagementFeeBps(200))
	require.NoError(t, l.SetQueue([]string{"strat-b", "strat-a"}))

	require.NoError(t, repo.Save(l))

	loaded, err := repo.Load(testAsset)
	require.NoError(t, err)

	assert.Equal(t, uint64(10_000), loaded.Idle())
	assert.Equal(t, uint64(90_000), loaded.TotalDebt())
	assert.Equal(t, uint64(9500), loaded.TotalDebtRatioBps())
	assert.Equal(t, uint64(4_500), loaded.LockedProfit())
	assert.InDelta(t, 1.0/21_600, loaded.LockedProfitDegradation(), 1e-12)
	assert.Equal(t, uint64(5_000_000), loaded.DepositLimit())
	assert.Equal(t, uint64(1000), loaded.PerformanceFeeBps())
	assert.Equal(t, []string{"strat-b", "strat-a"}, loaded.Queue())
	assert.NoError(t, loaded.CheckInvariants())

	a, ok := loaded.Strategy("strat-a")
	require.True(t, ok)
	assert.Equal(t, uint64(90_000), a.Debt)
	assert.Equal(t, uint64(5_000), a.CumulativeGain)
	assert.InDelta(t, 0.07, a.CachedAPY, 1e-9)
	require.NotNil(t, a.FeeOverrideBps)
	assert.Equal(t, uint64(500), *a.FeeOverrideBps)

	b, ok := loaded.Strategy("strat-b")
	require.True(t, ok)
	assert.True(t, b.Inactive)
	assert.Nil(t, b.FeeOverrideBps)
}

func TestRepository_LoadFreshDatabase(t *testing.T) {
	db := testVaultDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())

	l, err := repo.Load(testAsset)
	require.NoError(t, err)
	assert.Equal(t, testAsset, l.Asset())
	assert.Equal(t, uint64(0), l.TotalAssets())
	assert.Empty(t, l.Queue())
}

func TestRepository_SaveIsIdempotent(t *testing.T) {
	db := testVaultDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())

	l := newTestLedger()
	l.AddIdle(1_000)
	require.NoError(t, l.Register("strat-a", testAsset, 1000, 0, 100, nil, 100))

	require.NoError(t, repo.Save(l))
	require.NoError(t, repo.Save(l))

	loaded, err := repo.Load(testAsset)
	require.NoError(t, err)
	assert.Len(t, loaded.Strategies(), 1)
	assert.Equal(t, []string{"strat-a"}, loaded.Queue())
}

func TestRepository_ReportAudit(t *testing.T) {
	db := testVaultDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())

	id, err := repo.InsertReport(ReportRecord{
		StrategyID: "strat-a",
		Gain:       5_000,
		FeeAmount:  500,
		NewDebt:    90_000,
		CreatedAt:  1000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	reports, err := repo.RecentReports(10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "strat-a", reports[0].StrategyID)
	assert.Equal(t, uint64(5_000), reports[0].Gain)
	assert.Equal(t, uint64(500), reports[0].FeeAmount)
}

func TestRepository_APYHistory(t *testing.T) {
	db := testVaultDB(t)
	repo := NewRepository(db.Conn(), zerolog.Nop())

	for i, apy := range []float64{0.04, 0.05, 0.06} {
		require.NoError(t, repo.InsertAPYObservation("strat-a", apy, int64(1000+i)))
	}
	require.NoError(t, repo.InsertAPYObservation("strat-b", 0.99, 1000))

	apys, err := repo.RecentAPYs("strat-a", 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.04, 0.05, 0.06}, apys)

	// Limit keeps the newest observations, still oldest-first.
	apys, err = repo.RecentAPYs("strat-a", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.05, 0.06}, apys)
}
