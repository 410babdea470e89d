// Package shares implements the pooled vehicle's share registry: who holds
// how many claims on the vault. Balances live in vault.db alongside the
// ledger so a single transaction horizon covers both.
package shares

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Registry is a SQLite-backed share supply. It implements
// domain.ShareSupply.
type Registry struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRegistry creates a share registry on vault.db.
func NewRegistry(db *sql.DB, log zerolog.Logger) *Registry {
	return &Registry{
		db:  db,
		log: log.With().Str("repository", "shares").Logger(),
	}
}

// TotalSupply returns the sum of all outstanding shares.
func (r *Registry) TotalSupply() (uint64, error) {
	var total uint64
	err := r.db.QueryRow("SELECT COALESCE(SUM(shares), 0) FROM share_balances").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum share supply: %w", err)
	}
	return total, nil
}

// BalanceOf returns the share balance of a holder. Unknown holders have a
// zero balance.
func (r *Registry) BalanceOf(holder string) (uint64, error) {
	var balance uint64
	err := r.db.QueryRow("SELECT shares FROM share_balances WHERE holder = ?", holder).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get share balance for %s: %w", holder, err)
	}
	return balance, nil
}

// Mint credits shares to a holder.
func (r *Registry) Mint(holder string, shares uint64) error {
	if shares == 0 {
		return nil
	}
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO share_balances (holder, shares, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(holder) DO UPDATE SET
			shares = shares + excluded.shares,
			updated_at = excluded.updated_at
	`, holder, shares, now)
	if err != nil {
		return fmt.Errorf("failed to mint %d shares to %s: %w", shares, holder, err)
	}
	return nil
}

// ErrInsufficientShares is returned when a burn exceeds the holder's
// balance.
var ErrInsufficientShares = fmt.Errorf("insufficient share balance")

// Burn debits shares from a holder. Burning more than the balance fails
// without changing it.
func (r *Registry) Burn(holder string, shares uint64) error {
	if shares == 0 {
		return nil
	}
	now := time.Now().Unix()
	result, err := r.db.Exec(`
		UPDATE share_balances
		SET shares = shares - ?, updated_at = ?
		WHERE holder = ? AND shares >= ?
	`, shares, now, holder, shares)
	if err != nil {
		return fmt.Errorf("failed to burn %d shares from %s: %w", shares, holder, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check burn result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: holder %s burn %d", ErrInsufficientShares, holder, shares)
	}
	return nil
}

// Holders returns every holder with a nonzero balance.
func (r *Registry) Holders() (map[string]uint64, error) {
	rows, err := r.db.Query("SELECT holder, shares FROM share_balances WHERE shares > 0")
	if err != nil {
		return nil, fmt.Errorf("failed to list share holders: %w", err)
	}
	defer rows.Close()

	result := make(map[string]uint64)
	for rows.Next() {
		var holder string
		var balance uint64
		if err := rows.Scan(&holder, &balance); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan share balance row")
			continue
		}
		result[holder] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating share balances: %w", err)
	}
	return result, nil
}
