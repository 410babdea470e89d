// Package main is the entry point for Steward, a pooled yield vault that
// spreads a single asset across external strategy services, tracks their
// debt, and smooths reported profit over time.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/clientdata"
	"github.com/aristath/steward/internal/clients/advisory"
	"github.com/aristath/steward/internal/clients/strategy"
	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/ledger"
	"github.com/aristath/steward/internal/modules/liquidation"
	"github.com/aristath/steward/internal/modules/profitlock"
	"github.com/aristath/steward/internal/modules/rebalancing"
	"github.com/aristath/steward/internal/modules/settings"
	"github.com/aristath/steward/internal/modules/shares"
	"github.com/aristath/steward/internal/modules/vault"
	"github.com/aristath/steward/internal/scheduler"
	"github.com/aristath/steward/internal/server"
	"github.com/aristath/steward/internal/services"
	"github.com/aristath/steward/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("asset", cfg.Asset).Msg("Starting Steward")

	// Three-database architecture:
	// - vault.db: the accounting ledger (idle, debt, locked profit, shares)
	// - config.db: settings and API tokens
	// - cache.db: ephemeral client caches (advisory quotes, strategy status)
	vaultDB, err := openDatabase(cfg.DataDir, "vault", database.ProfileVault)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vault database")
	}
	defer vaultDB.Close()

	configDB, err := openDatabase(cfg.DataDir, "config", database.ProfileStandard)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize config database")
	}
	defer configDB.Close()

	cacheDB, err := openDatabase(cfg.DataDir, "cache", database.ProfileStandard)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cache database")
	}
	defer cacheDB.Close()

	// Repositories
	ledgerRepo := ledger.NewRepository(vaultDB.Conn(), log)
	settingsRepo := settings.NewRepository(configDB.Conn(), log)
	shareRegistry := shares.NewRegistry(vaultDB.Conn(), log)
	cacheRepo := clientdata.NewRepository(cacheDB.Conn())

	// Settings DB values take precedence over environment variables for
	// credentials, so they can be rotated without editing the .env file.
	if err := cfg.UpdateFromSettings(settingsRepo); err != nil {
		log.Warn().Err(err).Msg("Failed to update config from settings DB, using environment variables")
	}

	settingsSvc := settings.NewService(settingsRepo, log)

	// Advisory client. Quotes are hints; the vault verifies freshness and
	// risk bounds before acting on them.
	advisoryClient := advisory.NewClient(cfg.AdvisoryURL, cacheRepo, log)
	if cfg.AdvisoryToken != "" {
		advisoryClient.SetAuthToken(cfg.AdvisoryToken)
	}

	// Load the persisted ledger, or start fresh for the configured asset
	vaultLedger, err := ledgerRepo.Load(cfg.Asset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load vault ledger")
	}

	bus := events.NewBus(log)
	rebalancer := rebalancing.NewService(advisoryClient, ledgerRepo, settingsSvc, rebalancing.NewTriggerChecker(log), log)

	vaultSvc := vault.NewService(
		vaultLedger,
		ledgerRepo,
		shareRegistry,
		liquidation.NewEngine(log),
		rebalancer,
		profitlock.NewCalculator(log),
		settingsSvc,
		bus,
		log,
	)

	// Attach adapters for already-registered strategies. Each strategy's
	// endpoint lives in settings under strategy_endpoint_{id}; entries
	// without one stay ledger-only until an endpoint is configured.
	attachStrategies(vaultSvc, settingsRepo, cacheRepo, cfg, log)

	// Background jobs
	backupSvc := services.NewBackupService(settingsSvc, map[string]*database.DB{
		"vault":  vaultDB,
		"config": configDB,
		"cache":  cacheDB,
	}, log)

	rebalanceJob := scheduler.NewRebalanceJob(vaultSvc, log)
	feeAccrualJob := scheduler.NewFeeAccrualJob(vaultSvc, log)
	quoteSyncJob := scheduler.NewQuoteSyncJob(vaultSvc, log)
	cacheCleanupJob := clientdata.NewCleanupJob(cacheRepo, log)
	walCheckJob := scheduler.NewCheckWALCheckpointsJob(vaultDB, configDB, cacheDB, log)

	sched := scheduler.New(log)
	if err := registerJobs(sched, settingsSvc, rebalanceJob, feeAccrualJob, quoteSyncJob, cacheCleanupJob, walCheckJob, backupSvc); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Log:         log,
		VaultDB:     vaultDB,
		ConfigDB:    configDB,
		CacheDB:     cacheDB,
		Config:      cfg,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		Vault:       vaultSvc,
		SettingsSvc: settingsSvc,
		Bus:         bus,
	})
	srv.SetJobs(rebalanceJob, feeAccrualJob, quoteSyncJob, backupSvc, cacheCleanupJob)
	srv.SetJobStatusFunc(func() []server.JobStatus {
		statuses := sched.Statuses()
		out := make([]server.JobStatus, 0, len(statuses))
		for _, st := range statuses {
			out = append(out, server.JobStatus{
				Name:           st.Name,
				Runs:           st.Runs,
				Failures:       st.Failures,
				LastRunAt:      st.LastRunAt,
				LastDurationMs: st.LastDuration.Milliseconds(),
				LastError:      st.LastError,
			})
		}
		return out
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// openDatabase opens and migrates one of the named databases under dataDir.
func openDatabase(dataDir, name string, profile database.Profile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return db, nil
}

// attachStrategies wires HTTP adapters for every registered strategy that
// has an endpoint configured in settings.
func attachStrategies(vaultSvc *vault.Service, settingsRepo *settings.Repository, cacheRepo *clientdata.Repository, cfg *config.Config, log zerolog.Logger) {
	for _, entry := range vaultSvc.Strategies() {
		endpoint, err := settingsRepo.Get("strategy_endpoint_" + entry.ID)
		if err != nil {
			log.Error().Err(err).Str("strategy", entry.ID).Msg("Failed to read strategy endpoint")
			continue
		}
		if endpoint == nil || *endpoint == "" {
			log.Warn().Str("strategy", entry.ID).Msg("Strategy has no endpoint configured, adapter not attached")
			continue
		}
		adapter := strategy.NewAdapter(entry.ID, cfg.Asset, *endpoint, cfg.StrategyToken, cacheRepo, log)
		vaultSvc.AttachStrategy(entry.ID, adapter)
		log.Info().Str("strategy", entry.ID).Str("endpoint", *endpoint).Msg("Strategy adapter attached")
	}
}

// registerJobs schedules all background jobs.
func registerJobs(sched *scheduler.Scheduler, settingsSvc *settings.Service, rebalance, feeAccrual, quoteSync, cacheCleanup, walCheck, backup scheduler.Job) error {
	if err := sched.AddJob("@every 15m", rebalance); err != nil {
		return err
	}
	if err := sched.AddJob("@every 1h", feeAccrual); err != nil {
		return err
	}
	if err := sched.AddJob("@every 5m", quoteSync); err != nil {
		return err
	}
	if err := sched.AddJob("@every 1h", cacheCleanup); err != nil {
		return err
	}
	if err := sched.AddJob("@every 6h", walCheck); err != nil {
		return err
	}

	// Backup cadence comes from settings; a disabled backup still registers
	// and no-ops so enabling it takes effect without a restart.
	interval := 24
	if params, err := settingsSvc.Backup(); err == nil && params.IntervalHours > 0 {
		interval = params.IntervalHours
	}
	return sched.AddJob(fmt.Sprintf("@every %dh", interval), backup)
}
