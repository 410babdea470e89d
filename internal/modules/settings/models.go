package settings

// SettingDefaults holds the default value for every configurable setting,
// as stored (string) values. Rows persisted in config.db override these;
// the settings listing overlays them so governance always sees the
// effective configuration.
var SettingDefaults = map[string]string{
	// Fees (basis points)
	"performance_fee_bps": "1000", // 10% of reported gains
	"management_fee_bps":  "200",  // 2% per year on total assets
	"rewards_recipient":   "treasury",

	// Loss budgets (basis points of the moved amount)
	"max_withdrawal_loss_bps": "100", // 1% of the requested withdrawal
	"max_rebalance_loss_bps":  "50",  // 0.5% of total debt moved

	// Rebalance triggering
	"min_rebalance_interval_secs":         "21600", // 6 hours between rebalances
	"rebalance_improvement_threshold_bps": "25",    // projected blended-yield gain required
	"advisory_coverage_threshold_bps":     "5000",  // quotes must cover >= 50% of deployed debt
	"apy_smoothing_period":                "6",     // EMA period over stored APY observations

	// Allocation scoring
	"allocation_power":              "1",     // integer score exponent, >= 1; higher concentrates
	"allocation_max_strategy_bps":   "10000", // per-strategy allocation cap
	"allocation_dust_threshold_bps": "100",   // allocations below 1% are zeroed
	"min_confidence":                "0.5",   // advisory quotes below this are rejected

	// Vault limits
	"deposit_limit":             "0",        // 0 = unlimited
	"locked_profit_degradation": "0.000046", // full unlock in ~6 hours

	// Backup
	"backup_enabled":        "false",
	"backup_bucket":         "",
	"backup_prefix":         "steward",
	"backup_interval_hours": "24",
}
