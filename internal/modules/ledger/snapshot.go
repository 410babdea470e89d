package ledger

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshot is the serialized form of the whole aggregate. Used for
// transactional rollback (rebalance loss budget, withdrawal safety gate) and
// for off-site backups. Field identity is append-only: new fields get new
// msgpack names, existing names are never reused.
type snapshot struct {
	Asset                   string                    `msgpack:"asset"`
	Idle                    uint64                    `msgpack:"idle"`
	TotalDebt               uint64                    `msgpack:"total_debt"`
	TotalDebtRatioBps       uint64                    `msgpack:"total_debt_ratio_bps"`
	LockedProfit            uint64                    `msgpack:"locked_profit"`
	LockedProfitDegradation float64                   `msgpack:"locked_profit_degradation"`
	LastReportAt            int64                     `msgpack:"last_report_at"`
	LastFeeAccrualAt        int64                     `msgpack:"last_fee_accrual_at"`
	LastRebalanceAt         int64                     `msgpack:"last_rebalance_at"`
	DepositLimit            uint64                    `msgpack:"deposit_limit"`
	EmergencyShutdown       bool                      `msgpack:"emergency_shutdown"`
	PerformanceFeeBps       uint64                    `msgpack:"performance_fee_bps"`
	ManagementFeeBps        uint64                    `msgpack:"management_fee_bps"`
	Entries                 map[string]*StrategyEntry `msgpack:"entries"`
	Queue                   []string                  `msgpack:"queue"`
}

// Snapshot serializes the full ledger state.
func (l *Ledger) Snapshot() ([]byte, error) {
	entries := make(map[string]*StrategyEntry, len(l.entries))
	for id, e := range l.entries {
		cp := *e
		if e.FeeOverrideBps != nil {
			fee := *e.FeeOverrideBps
			cp.FeeOverrideBps = &fee
		}
		entries[id] = &cp
	}
	s := snapshot{
		Asset:                   l.asset,
		Idle:                    l.idle,
		TotalDebt:               l.totalDebt,
		TotalDebtRatioBps:       l.totalDebtRatioBps,
		LockedProfit:            l.lockedProfit,
		LockedProfitDegradation: l.lockedProfitDegradation,
		LastReportAt:            l.lastReportAt,
		LastFeeAccrualAt:        l.lastFeeAccrualAt,
		LastRebalanceAt:         l.lastRebalanceAt,
		DepositLimit:            l.depositLimit,
		EmergencyShutdown:       l.emergencyShutdown,
		PerformanceFeeBps:       l.performanceFeeBps,
		ManagementFeeBps:        l.managementFeeBps,
		Entries:                 entries,
		Queue:                   append([]string(nil), l.queue...),
	}
	data, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot ledger: %w", err)
	}
	return data, nil
}

// Restore replaces the full ledger state from a snapshot. The ledger is left
// untouched when decoding fails.
func (l *Ledger) Restore(data []byte) error {
	var s snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to restore ledger snapshot: %w", err)
	}

	l.asset = s.Asset
	l.idle = s.Idle
	l.totalDebt = s.TotalDebt
	l.totalDebtRatioBps = s.TotalDebtRatioBps
	l.lockedProfit = s.LockedProfit
	l.lockedProfitDegradation = s.LockedProfitDegradation
	l.lastReportAt = s.LastReportAt
	l.lastFeeAccrualAt = s.LastFeeAccrualAt
	l.lastRebalanceAt = s.LastRebalanceAt
	l.depositLimit = s.DepositLimit
	l.emergencyShutdown = s.EmergencyShutdown
	l.performanceFeeBps = s.PerformanceFeeBps
	l.managementFeeBps = s.ManagementFeeBps
	if s.Entries == nil {
		s.Entries = make(map[string]*StrategyEntry)
	}
	l.entries = s.Entries
	l.queue = s.Queue
	return nil
}
