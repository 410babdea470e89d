package settings

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	steward "github.com/aristath/steward/internal/testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db := steward.NewTestDB(t, "config")
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestGetMissingReturnsNil(t *testing.T) {
	repo := newTestRepo(t)

	value, err := repo.Get("does_not_exist")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestSetAndGet(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Set("rewards_recipient", "treasury", nil))
	value, err := repo.Get("rewards_recipient")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "treasury", *value)

	// Overwrite through the same key.
	require.NoError(t, repo.Set("rewards_recipient", "ops", nil))
	value, err = repo.Get("rewards_recipient")
	require.NoError(t, err)
	assert.Equal(t, "ops", *value)
}

func TestTypedGetters(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.SetUint64("performance_fee_bps", 1000))
	fee, err := repo.GetUint64("performance_fee_bps", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), fee)

	require.NoError(t, repo.SetFloat("min_confidence", 0.75))
	confidence, err := repo.GetFloat("min_confidence", 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, confidence, 1e-9)

	require.NoError(t, repo.SetBool("backup_enabled", true))
	enabled, err := repo.GetBool("backup_enabled", false)
	require.NoError(t, err)
	assert.True(t, enabled)

	// Floats that arrived as "12.0" parse as ints.
	require.NoError(t, repo.Set("apy_smoothing_period", "12.0", nil))
	period, err := repo.GetInt("apy_smoothing_period", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, period)
}

func TestTypedGettersFallBackToDefaults(t *testing.T) {
	repo := newTestRepo(t)

	fee, err := repo.GetUint64("performance_fee_bps", 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), fee)

	require.NoError(t, repo.Set("management_fee_bps", "not a number", nil))
	mgmt, err := repo.GetUint64("management_fee_bps", 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), mgmt)
}

func TestGetAll(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Set("a", "1", nil))
	require.NoError(t, repo.Set("b", "2", nil))

	all, err := repo.GetAll()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, all)
}

func TestDelete(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Set("transient", "x", nil))
	require.NoError(t, repo.Delete("transient"))
	value, err := repo.Get("transient")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, repo.Delete("never_existed"))
}

func TestServiceTypedParams(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, zerolog.Nop())

	// Defaults apply on an empty database.
	vaultParams, err := svc.Vault()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), vaultParams.PerformanceFeeBps)
	assert.Equal(t, "treasury", vaultParams.RewardsRecipient)

	require.NoError(t, repo.SetUint64("performance_fee_bps", 500))
	require.NoError(t, repo.Set("rewards_recipient", "ops", nil))
	vaultParams, err = svc.Vault()
	require.NoError(t, err)
	assert.Equal(t, uint64(500), vaultParams.PerformanceFeeBps)
	assert.Equal(t, "ops", vaultParams.RewardsRecipient)

	rebalanceParams, err := svc.Rebalance()
	require.NoError(t, err)
	assert.Equal(t, int64(21600), rebalanceParams.MinIntervalSecs)
	assert.Equal(t, uint64(5000), rebalanceParams.CoverageThresholdBps)

	allocationParams, err := svc.Allocation()
	require.NoError(t, err)
	assert.Equal(t, 1, allocationParams.Power)
	assert.Equal(t, uint64(10000), allocationParams.MaxStrategyBps)

	// A sub-1 power would invert the skew toward the best candidates.
	require.NoError(t, repo.SetInt("allocation_power", 0))
	allocationParams, err = svc.Allocation()
	require.NoError(t, err)
	assert.Equal(t, 1, allocationParams.Power)

	require.NoError(t, repo.SetInt("allocation_power", 3))
	allocationParams, err = svc.Allocation()
	require.NoError(t, err)
	assert.Equal(t, 3, allocationParams.Power)
}
