// Package events provides event management functionality: a typed in-process
// bus that vault operations publish to and the websocket stream and job
// listeners subscribe to.
package events

import (
	"time"
)

// EventType represents different event types.
type EventType string

const (
	DepositProcessed   EventType = "DEPOSIT_PROCESSED"
	WithdrawProcessed  EventType = "WITHDRAW_PROCESSED"
	ReportProcessed    EventType = "REPORT_PROCESSED"
	RebalanceExecuted  EventType = "REBALANCE_EXECUTED"
	StrategyRegistered EventType = "STRATEGY_REGISTERED"
	StrategyRevoked    EventType = "STRATEGY_REVOKED"
	FeesAccrued        EventType = "FEES_ACCRUED"
	EmergencyExited    EventType = "EMERGENCY_EXIT_EXECUTED"
	ShutdownChanged    EventType = "SHUTDOWN_CHANGED"
	SettingsChanged    EventType = "SETTINGS_CHANGED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// Event represents a system event with typed data.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// DepositProcessedData contains data for DepositProcessed events.
type DepositProcessedData struct {
	Holder string `json:"holder"`
	Amount uint64 `json:"amount"`
	Shares uint64 `json:"shares"`
}

// WithdrawProcessedData contains data for WithdrawProcessed events.
type WithdrawProcessedData struct {
	Holder string `json:"holder"`
	Amount uint64 `json:"amount"`
	Shares uint64 `json:"shares"`
	Loss   uint64 `json:"loss"`
}

// ReportProcessedData contains data for ReportProcessed events.
type ReportProcessedData struct {
	StrategyID string `json:"strategy_id"`
	Gain       uint64 `json:"gain"`
	Loss       uint64 `json:"loss"`
	Fee        uint64 `json:"fee"`
	NewDebt    uint64 `json:"new_debt"`
}

// RebalanceExecutedData contains data for RebalanceExecuted events.
type RebalanceExecutedData struct {
	Moved          uint64 `json:"moved"`
	Loss           uint64 `json:"loss"`
	ImprovementBps int64  `json:"improvement_bps"`
	Strategies     int    `json:"strategies"`
}

// StrategyLifecycleData contains data for StrategyRegistered and
// StrategyRevoked events.
type StrategyLifecycleData struct {
	StrategyID   string `json:"strategy_id"`
	DebtRatioBps uint64 `json:"debt_ratio_bps"`
}

// FeesAccruedData contains data for FeesAccrued events.
type FeesAccruedData struct {
	Fee       uint64 `json:"fee"`
	FeeShares uint64 `json:"fee_shares"`
	Recipient string `json:"recipient"`
}

// ErrorEventData contains data for ErrorOccurred events.
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
