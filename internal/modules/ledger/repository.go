package ledger

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// Repository persists the ledger aggregate to vault.db. The in-memory Ledger
// stays the source of truth while the process owns the database; Save is
// called after each completed operation and Load reconstructs on startup.
//
// Schema evolution is append-only: columns are added with defaults, never
// renamed or reused, so state survives upgrades with stable field identity.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a ledger repository on vault.db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "ledger").Logger(),
	}
}

// Save writes the whole aggregate in one transaction.
func (r *Repository) Save(l *Ledger) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ledger save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO vault_state (
			id, asset, idle, total_debt, total_debt_ratio_bps,
			locked_profit, locked_profit_degradation,
			last_report_at, last_fee_accrual_at, last_rebalance_at,
			deposit_limit, emergency_shutdown,
			performance_fee_bps, management_fee_bps
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			asset = excluded.asset,
			idle = excluded.idle,
			total_debt = excluded.total_debt,
			total_debt_ratio_bps = excluded.total_debt_ratio_bps,
			locked_profit = excluded.locked_profit,
			locked_profit_degradation = excluded.locked_profit_degradation,
			last_report_at = excluded.last_report_at,
			last_fee_accrual_at = excluded.last_fee_accrual_at,
			last_rebalance_at = excluded.last_rebalance_at,
			deposit_limit = excluded.deposit_limit,
			emergency_shutdown = excluded.emergency_shutdown,
			performance_fee_bps = excluded.performance_fee_bps,
			management_fee_bps = excluded.management_fee_bps
	`, l.asset, l.idle, l.totalDebt, l.totalDebtRatioBps,
		l.lockedProfit, l.lockedProfitDegradation,
		l.lastReportAt, l.lastFeeAccrualAt, l.lastRebalanceAt,
		l.depositLimit, boolToInt(l.emergencyShutdown),
		l.performanceFeeBps, l.managementFeeBps)
	if err != nil {
		return fmt.Errorf("failed to save vault state: %w", err)
	}

	queuePos := make(map[string]int, len(l.queue))
	for i, id := range l.queue {
		queuePos[id] = i
	}

	if _, err := tx.Exec(`DELETE FROM strategies`); err != nil {
		return fmt.Errorf("failed to clear strategies: %w", err)
	}
	for id, e := range l.entries {
		var pos *int
		if p, ok := queuePos[id]; ok {
			pos = &p
		}
		var feeOverride *int64
		if e.FeeOverrideBps != nil {
			v := int64(*e.FeeOverrideBps)
			feeOverride = &v
		}
		_, err := tx.Exec(`
			INSERT INTO strategies (
				id, activated_at, debt_ratio_bps, min_debt_per_op, max_debt_per_op,
				debt, cumulative_gain, cumulative_loss, last_report_at,
				cached_apy, cached_risk_score, fee_override_bps, inactive,
				queue_position
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, e.ActivatedAt, e.DebtRatioBps, e.MinDebtPerOp, e.MaxDebtPerOp,
			e.Debt, e.CumulativeGain, e.CumulativeLoss, e.LastReportAt,
			e.CachedAPY, e.CachedRiskScore, feeOverride, boolToInt(e.Inactive), pos)
		if err != nil {
			return fmt.Errorf("failed to save strategy %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger save: %w", err)
	}
	return nil
}

// Load reconstructs the aggregate from vault.db. A fresh database yields an
// empty ledger for the given asset.
func (r *Repository) Load(asset string) (*Ledger, error) {
	l := New(asset)

	var shutdown int
	err := r.db.QueryRow(`
		SELECT asset, idle, total_debt, total_debt_ratio_bps,
			locked_profit, locked_profit_degradation,
			last_report_at, last_fee_accrual_at, last_rebalance_at,
			deposit_limit, emergency_shutdown,
			performance_fee_bps, management_fee_bps
		FROM vault_state WHERE id = 1
	`).Scan(&l.asset, &l.idle, &l.totalDebt, &l.totalDebtRatioBps,
		&l.lockedProfit, &l.lockedProfitDegradation,
		&l.lastReportAt, &l.lastFeeAccrualAt, &l.lastRebalanceAt,
		&l.depositLimit, &shutdown,
		&l.performanceFeeBps, &l.managementFeeBps)
	if err == sql.ErrNoRows {
		r.log.Info().Str("asset", asset).Msg("No persisted vault state, starting fresh")
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vault state: %w", err)
	}
	l.emergencyShutdown = shutdown != 0

	rows, err := r.db.Query(`
		SELECT id, activated_at, debt_ratio_bps, min_debt_per_op, max_debt_per_op,
			debt, cumulative_gain, cumulative_loss, last_report_at,
			cached_apy, cached_risk_score, fee_override_bps, inactive,
			queue_position
		FROM strategies
		ORDER BY queue_position IS NULL, queue_position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e := &StrategyEntry{}
		var feeOverride sql.NullInt64
		var inactive int
		var queuePos sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ActivatedAt, &e.DebtRatioBps, &e.MinDebtPerOp,
			&e.MaxDebtPerOp, &e.Debt, &e.CumulativeGain, &e.CumulativeLoss,
			&e.LastReportAt, &e.CachedAPY, &e.CachedRiskScore,
			&feeOverride, &inactive, &queuePos); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		if feeOverride.Valid {
			v := uint64(feeOverride.Int64)
			e.FeeOverrideBps = &v
		}
		e.Inactive = inactive != 0
		l.entries[e.ID] = e
		if queuePos.Valid {
			l.queue = append(l.queue, e.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate strategies: %w", err)
	}

	r.log.Info().
		Int("strategies", len(l.entries)).
		Uint64("total_debt", l.totalDebt).
		Uint64("idle", l.idle).
		Msg("Loaded vault state")
	return l, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
