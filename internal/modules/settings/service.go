package settings

import (
	"github.com/rs/zerolog"
)

// Service layers typed parameter loading on top of the repository. Each
// loader reads the current values so setting changes take effect on the
// next operation without a restart.
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a settings service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "settings").Logger(),
	}
}

// Repository exposes the underlying repository for raw access.
func (s *Service) Repository() *Repository {
	return s.repo
}

// VaultParams are the orchestrator-level knobs.
type VaultParams struct {
	PerformanceFeeBps       uint64
	ManagementFeeBps        uint64
	RewardsRecipient        string
	MaxWithdrawalLossBps    uint64
	DepositLimit            uint64
	LockedProfitDegradation float64
}

// RebalanceParams govern trigger checks and execution budgets.
type RebalanceParams struct {
	MinIntervalSecs         int64
	ImprovementThresholdBps uint64
	CoverageThresholdBps    uint64
	MaxLossBps              uint64
	APYSmoothingPeriod      int
}

// AllocationParams feed the target computation.
type AllocationParams struct {
	Power            int
	MaxStrategyBps   uint64
	DustThresholdBps uint64
	MinConfidence    float64
}

// BackupParams configure the S3 database backup job.
type BackupParams struct {
	Enabled       bool
	Bucket        string
	Prefix        string
	IntervalHours int
}

// Vault loads the orchestrator parameters.
func (s *Service) Vault() (VaultParams, error) {
	perfFee, err := s.repo.GetUint64("performance_fee_bps", 1000)
	if err != nil {
		return VaultParams{}, err
	}
	mgmtFee, err := s.repo.GetUint64("management_fee_bps", 200)
	if err != nil {
		return VaultParams{}, err
	}
	recipient, err := s.repo.Get("rewards_recipient")
	if err != nil {
		return VaultParams{}, err
	}
	maxLoss, err := s.repo.GetUint64("max_withdrawal_loss_bps", 100)
	if err != nil {
		return VaultParams{}, err
	}
	limit, err := s.repo.GetUint64("deposit_limit", 0)
	if err != nil {
		return VaultParams{}, err
	}
	degradation, err := s.repo.GetFloat("locked_profit_degradation", 0.000046)
	if err != nil {
		return VaultParams{}, err
	}

	p := VaultParams{
		PerformanceFeeBps:       perfFee,
		ManagementFeeBps:        mgmtFee,
		RewardsRecipient:        "treasury",
		MaxWithdrawalLossBps:    maxLoss,
		DepositLimit:            limit,
		LockedProfitDegradation: degradation,
	}
	if recipient != nil && *recipient != "" {
		p.RewardsRecipient = *recipient
	}
	return p, nil
}

// Rebalance loads the rebalance trigger and budget parameters.
func (s *Service) Rebalance() (RebalanceParams, error) {
	interval, err := s.repo.GetInt("min_rebalance_interval_secs", 21600)
	if err != nil {
		return RebalanceParams{}, err
	}
	improvement, err := s.repo.GetUint64("rebalance_improvement_threshold_bps", 25)
	if err != nil {
		return RebalanceParams{}, err
	}
	coverage, err := s.repo.GetUint64("advisory_coverage_threshold_bps", 5000)
	if err != nil {
		return RebalanceParams{}, err
	}
	maxLoss, err := s.repo.GetUint64("max_rebalance_loss_bps", 50)
	if err != nil {
		return RebalanceParams{}, err
	}
	period, err := s.repo.GetInt("apy_smoothing_period", 6)
	if err != nil {
		return RebalanceParams{}, err
	}

	return RebalanceParams{
		MinIntervalSecs:         int64(interval),
		ImprovementThresholdBps: improvement,
		CoverageThresholdBps:    coverage,
		MaxLossBps:              maxLoss,
		APYSmoothingPeriod:      period,
	}, nil
}

// Allocation loads the scoring parameters.
func (s *Service) Allocation() (AllocationParams, error) {
	power, err := s.repo.GetInt("allocation_power", 1)
	if err != nil {
		return AllocationParams{}, err
	}
	if power < 1 {
		power = 1
	}
	maxBps, err := s.repo.GetUint64("allocation_max_strategy_bps", 10000)
	if err != nil {
		return AllocationParams{}, err
	}
	dust, err := s.repo.GetUint64("allocation_dust_threshold_bps", 100)
	if err != nil {
		return AllocationParams{}, err
	}
	minConfidence, err := s.repo.GetFloat("min_confidence", 0.5)
	if err != nil {
		return AllocationParams{}, err
	}

	return AllocationParams{
		Power:            power,
		MaxStrategyBps:   maxBps,
		DustThresholdBps: dust,
		MinConfidence:    minConfidence,
	}, nil
}

// Backup loads the S3 backup parameters.
func (s *Service) Backup() (BackupParams, error) {
	enabled, err := s.repo.GetBool("backup_enabled", false)
	if err != nil {
		return BackupParams{}, err
	}
	bucket, err := s.repo.Get("backup_bucket")
	if err != nil {
		return BackupParams{}, err
	}
	prefix, err := s.repo.Get("backup_prefix")
	if err != nil {
		return BackupParams{}, err
	}
	interval, err := s.repo.GetInt("backup_interval_hours", 24)
	if err != nil {
		return BackupParams{}, err
	}

	p := BackupParams{Enabled: enabled, Prefix: "steward", IntervalHours: interval}
	if bucket != nil {
		p.Bucket = *bucket
	}
	if prefix != nil && *prefix != "" {
		p.Prefix = *prefix
	}
	return p, nil
}
