package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/domain"
	"github.com/aristath/steward/internal/modules/ledger"
	"github.com/aristath/steward/internal/modules/liquidation"
	"github.com/aristath/steward/internal/modules/profitlock"
	"github.com/aristath/steward/internal/modules/rebalancing"
	"github.com/aristath/steward/internal/modules/settings"
	"github.com/aristath/steward/internal/modules/vault"
	steward "github.com/aristath/steward/internal/testing"
)

const (
	testAsset = "USDC"
	testNow   = int64(1_000_000)
)

func newTestVault(t *testing.T) (*vault.Service, *steward.MockAdvisorySource) {
	t.Helper()
	log := zerolog.Nop()
	db := steward.NewTestDB(t, "config")
	settingsSvc := settings.NewService(settings.NewRepository(db.Conn(), log), log)
	advisory := steward.NewMockAdvisorySource()
	rebalancer := rebalancing.NewService(advisory, nil, settingsSvc, rebalancing.NewTriggerChecker(log), log)

	svc := vault.NewService(
		ledger.New(testAsset),
		nil,
		steward.NewMockShareSupply(),
		liquidation.NewEngine(log),
		rebalancer,
		profitlock.NewCalculator(log),
		settingsSvc,
		nil,
		log,
	)
	svc.SetClock(func() int64 { return testNow })
	return svc, advisory
}

func freshQuote(apy float64) domain.YieldQuote {
	return domain.YieldQuote{
		APY:        apy,
		RiskScore:  1,
		Confidence: 1,
		UpdatedAt:  time.Unix(testNow, 0),
		Round:      2,
		PrevRound:  1,
	}
}

func TestRebalanceJobExecutesWhenBeneficial(t *testing.T) {
	svc, advisory := newTestVault(t)
	_, err := svc.Deposit("alice", 100_000)
	require.NoError(t, err)
	strat := steward.NewMockStrategy(testAsset, 0)
	require.NoError(t, svc.RegisterStrategy("strat-a", strat, 9_000, 0, 0, nil))
	advisory.SetCandidates(testAsset, []string{"strat-a"}, []domain.YieldQuote{freshQuote(0.05)})

	job := NewRebalanceJob(svc, zerolog.Nop())
	assert.Equal(t, "rebalance_check", job.Name())
	require.NoError(t, job.Run())

	status, err := svc.Status()
	require.NoError(t, err)
	assert.Equal(t, uint64(90_000), status.TotalDebt)
}

func TestRebalanceJobSkipsWithoutCandidates(t *testing.T) {
	svc, _ := newTestVault(t)
	_, err := svc.Deposit("alice", 100_000)
	require.NoError(t, err)

	job := NewRebalanceJob(svc, zerolog.Nop())
	require.NoError(t, job.Run())

	status, err := svc.Status()
	require.NoError(t, err)
	assert.Zero(t, status.TotalDebt)
}

func TestFeeAccrualJob(t *testing.T) {
	svc, _ := newTestVault(t)
	_, err := svc.Deposit("alice", 100_000)
	require.NoError(t, err)

	job := NewFeeAccrualJob(svc, zerolog.Nop())
	assert.Equal(t, "fee_accrual", job.Name())
	require.NoError(t, job.Run())
}

func TestQuoteSyncJob(t *testing.T) {
	svc, advisory := newTestVault(t)
	strat := steward.NewMockStrategy(testAsset, 0)
	require.NoError(t, svc.RegisterStrategy("strat-a", strat, 5_000, 0, 0, nil))
	advisory.SetCandidates(testAsset, []string{"strat-a"}, []domain.YieldQuote{freshQuote(0.07)})

	job := NewQuoteSyncJob(svc, zerolog.Nop())
	require.NoError(t, job.Run())

	entries := svc.Strategies()
	require.Len(t, entries, 1)
	assert.Equal(t, 0.07, entries[0].CachedAPY)
}

func TestCheckWALCheckpointsJob(t *testing.T) {
	vaultDB := steward.NewTestDB(t, "vault")
	configDB := steward.NewTestDB(t, "config")

	job := NewCheckWALCheckpointsJob(vaultDB, configDB, nil, zerolog.Nop())
	assert.Equal(t, "check_wal_checkpoints", job.Name())
	require.NoError(t, job.Run())
}

func TestSchedulerRegistersJobs(t *testing.T) {
	s := New(zerolog.Nop())
	svc, _ := newTestVault(t)

	require.NoError(t, s.AddJob("@every 1h", NewFeeAccrualJob(svc, zerolog.Nop())))
	assert.Error(t, s.AddJob("not a schedule", NewFeeAccrualJob(svc, zerolog.Nop())))
}
