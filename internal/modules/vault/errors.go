package vault

import "errors"

// Orchestrator errors.
var (
	// ErrUnauthorized is returned when the caller lacks the role an
	// operation requires, including a report submitted for a strategy
	// other than the caller itself.
	ErrUnauthorized = errors.New("caller is not authorized for this operation")

	// ErrOperationInProgress is returned to a nested call while a
	// deposit, withdrawal, report or rebalance is still running.
	ErrOperationInProgress = errors.New("another vault operation is in progress")

	// ErrShutdown is returned for deposits and debt growth during an
	// emergency shutdown.
	ErrShutdown = errors.New("vault is in emergency shutdown")

	// ErrDepositLimit is returned when a deposit would push total assets
	// past the configured limit.
	ErrDepositLimit = errors.New("deposit exceeds the vault deposit limit")

	// ErrInvalidAmount is returned for zero-valued deposits/withdrawals.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientShares is returned when a holder redeems more shares
	// than they own.
	ErrInsufficientShares = errors.New("holder owns fewer shares than requested")

	// ErrUnknownStrategy is returned when no adapter is attached for a
	// strategy id.
	ErrUnknownStrategy = errors.New("no strategy adapter attached")
)
