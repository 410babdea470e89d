package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReportRecord is one audit row for a strategy report.
type ReportRecord struct {
	ID            string `json:"id"`
	StrategyID    string `json:"strategy_id"`
	Gain          uint64 `json:"gain"`
	Loss          uint64 `json:"loss"`
	DebtRepayment uint64 `json:"debt_repayment"`
	FeeAmount     uint64 `json:"fee_amount"`
	NewDebt       uint64 `json:"new_debt"`
	CreatedAt     int64  `json:"created_at"`
}

// RebalanceRecord is one audit row for an executed rebalance.
type RebalanceRecord struct {
	ID             string `json:"id"`
	Moved          uint64 `json:"moved"`
	Loss           uint64 `json:"loss"`
	ImprovementBps int64  `json:"improvement_bps"`
	Strategies     int    `json:"strategies"`
	CreatedAt      int64  `json:"created_at"`
}

// InsertReport appends a report audit row and returns its generated id.
func (r *Repository) InsertReport(rec ReportRecord) (string, error) {
	rec.ID = uuid.New().String()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	_, err := r.db.Exec(`
		INSERT INTO reports (id, strategy_id, gain, loss, debt_repayment, fee_amount, new_debt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.StrategyID, rec.Gain, rec.Loss, rec.DebtRepayment, rec.FeeAmount, rec.NewDebt, rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert report audit row: %w", err)
	}
	return rec.ID, nil
}

// InsertRebalance appends a rebalance audit row and returns its generated id.
func (r *Repository) InsertRebalance(rec RebalanceRecord) (string, error) {
	rec.ID = uuid.New().String()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	_, err := r.db.Exec(`
		INSERT INTO rebalances (id, moved, loss, improvement_bps, strategies, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Moved, rec.Loss, rec.ImprovementBps, rec.Strategies, rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert rebalance audit row: %w", err)
	}
	return rec.ID, nil
}

// RecentReports returns the newest report audit rows, newest first.
func (r *Repository) RecentReports(limit int) ([]ReportRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, strategy_id, gain, loss, debt_repayment, fee_amount, new_debt, created_at
		FROM reports ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var out []ReportRecord
	for rows.Next() {
		var rec ReportRecord
		if err := rows.Scan(&rec.ID, &rec.StrategyID, &rec.Gain, &rec.Loss,
			&rec.DebtRepayment, &rec.FeeAmount, &rec.NewDebt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertAPYObservation appends one accepted advisory observation for EMA
// smoothing of the blended-yield heuristic.
func (r *Repository) InsertAPYObservation(strategyID string, apy float64, observedAt int64) error {
	_, err := r.db.Exec(`
		INSERT INTO apy_history (strategy_id, apy, observed_at) VALUES (?, ?, ?)
	`, strategyID, apy, observedAt)
	if err != nil {
		return fmt.Errorf("failed to insert apy observation: %w", err)
	}
	return nil
}

// RecentAPYs returns up to limit observations for a strategy, oldest first,
// ready to feed into formulas.SmoothedAPY.
func (r *Repository) RecentAPYs(strategyID string, limit int) ([]float64, error) {
	rows, err := r.db.Query(`
		SELECT apy FROM (
			SELECT apy, observed_at FROM apy_history
			WHERE strategy_id = ?
			ORDER BY observed_at DESC LIMIT ?
		) ORDER BY observed_at ASC
	`, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query apy history: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var apy float64
		if err := rows.Scan(&apy); err != nil {
			return nil, fmt.Errorf("failed to scan apy: %w", err)
		}
		out = append(out, apy)
	}
	return out, rows.Err()
}
