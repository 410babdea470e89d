package scheduler

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/modules/rebalancing"
	"github.com/aristath/steward/internal/modules/vault"
)

// RebalanceJob checks the rebalance heuristics and executes a rebalance
// cycle when they say it is worthwhile.
type RebalanceJob struct {
	vault *vault.Service
	log   zerolog.Logger
}

// NewRebalanceJob creates a new rebalance job.
func NewRebalanceJob(vaultSvc *vault.Service, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		vault: vaultSvc,
		log:   log.With().Str("job", "rebalance_check").Logger(),
	}
}

// Name returns the job name.
func (j *RebalanceJob) Name() string { return "rebalance_check" }

// Run checks the trigger heuristics and rebalances when beneficial.
func (j *RebalanceJob) Run() error {
	result, err := j.vault.ShouldRebalance()
	if err != nil {
		return err
	}
	if !result.ShouldRebalance {
		j.log.Debug().Str("reason", result.Reason).Msg("Skipping rebalance")
		return nil
	}

	outcome, err := j.vault.ExecuteRebalance()
	if err != nil {
		// Another operation may have advanced the clock between the check
		// and the execution.
		if errors.Is(err, rebalancing.ErrTooSoon) || errors.Is(err, vault.ErrOperationInProgress) {
			j.log.Debug().Err(err).Msg("Rebalance skipped")
			return nil
		}
		return err
	}

	j.log.Info().
		Uint64("moved", outcome.Moved).
		Uint64("loss", outcome.Loss).
		Int64("improvement_bps", outcome.ImprovementBps).
		Msg("Scheduled rebalance executed")
	return nil
}

// FeeAccrualJob charges the management fee accrued since the last tick.
type FeeAccrualJob struct {
	vault *vault.Service
	log   zerolog.Logger
}

// NewFeeAccrualJob creates a new fee accrual job.
func NewFeeAccrualJob(vaultSvc *vault.Service, log zerolog.Logger) *FeeAccrualJob {
	return &FeeAccrualJob{
		vault: vaultSvc,
		log:   log.With().Str("job", "fee_accrual").Logger(),
	}
}

// Name returns the job name.
func (j *FeeAccrualJob) Name() string { return "fee_accrual" }

// Run accrues the management fee.
func (j *FeeAccrualJob) Run() error {
	fee, err := j.vault.AccrueFees()
	if err != nil {
		if errors.Is(err, vault.ErrOperationInProgress) {
			return nil
		}
		return err
	}
	if fee > 0 {
		j.log.Info().Uint64("fee", fee).Msg("Management fee accrued")
	}
	return nil
}

// QuoteSyncJob refreshes advisory quotes and records APY observations for
// trend smoothing.
type QuoteSyncJob struct {
	vault *vault.Service
	log   zerolog.Logger
}

// NewQuoteSyncJob creates a new quote sync job.
func NewQuoteSyncJob(vaultSvc *vault.Service, log zerolog.Logger) *QuoteSyncJob {
	return &QuoteSyncJob{
		vault: vaultSvc,
		log:   log.With().Str("job", "quote_sync").Logger(),
	}
}

// Name returns the job name.
func (j *QuoteSyncJob) Name() string { return "quote_sync" }

// Run syncs advisory quotes into the ledger and APY history.
func (j *QuoteSyncJob) Run() error {
	if err := j.vault.SyncQuotes(); err != nil {
		if errors.Is(err, vault.ErrOperationInProgress) {
			return nil
		}
		return err
	}
	return nil
}

// CheckWALCheckpointsJob monitors WAL checkpoint status across databases.
type CheckWALCheckpointsJob struct {
	log       zerolog.Logger
	databases map[string]*database.DB
}

// NewCheckWALCheckpointsJob creates a new WAL checkpoint monitor.
func NewCheckWALCheckpointsJob(vaultDB, configDB, cacheDB *database.DB, log zerolog.Logger) *CheckWALCheckpointsJob {
	return &CheckWALCheckpointsJob{
		log: log.With().Str("job", "check_wal_checkpoints").Logger(),
		databases: map[string]*database.DB{
			"vault":  vaultDB,
			"config": configDB,
			"cache":  cacheDB,
		},
	}
}

// Name returns the job name.
func (j *CheckWALCheckpointsJob) Name() string { return "check_wal_checkpoints" }

// Run checks WAL checkpoint status for each database.
func (j *CheckWALCheckpointsJob) Run() error {
	checkedCount := 0
	for name, db := range j.databases {
		if db == nil {
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, walFrames, checkpointed int
		err := db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &walFrames, &checkpointed)
		if err != nil {
			j.log.Warn().
				Err(err).
				Str("database", name).
				Msg("Failed to check WAL checkpoint")
			continue
		}

		if walFrames > 1000 {
			j.log.Warn().
				Str("database", name).
				Int("wal_frames", walFrames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large, checkpoint may be needed")
		} else {
			j.log.Debug().
				Str("database", name).
				Int("wal_frames", walFrames).
				Msg("WAL checkpoint status OK")
		}

		checkedCount++
	}

	j.log.Debug().
		Int("checked", checkedCount).
		Msg("WAL checkpoint check completed")

	return nil
}
