package ledger

import "errors"

// Validation errors: the caller sent something malformed and must correct it.
var (
	ErrAlreadyRegistered = errors.New("strategy already registered")
	ErrNotRegistered     = errors.New("strategy not registered")
	ErrRatioOverflow     = errors.New("aggregate debt ratio would exceed 10000 bps")
	ErrQueueFull         = errors.New("withdrawal queue is full")
	ErrAssetMismatch     = errors.New("strategy asset does not match vault asset")
	ErrMinOverMax        = errors.New("min debt per op exceeds max debt per op")
	ErrFeeOverflow       = errors.New("fee override exceeds the performance fee cap")
	ErrQueueDuplicate    = errors.New("strategy appears twice in queue")
)

// State errors: the operation is valid in general but not against the current
// ledger state.
var (
	ErrInactiveStrategy = errors.New("strategy is not allocatable")
)

// Invariant violations: arithmetic that would silently corrupt the books.
// These are fatal to the surrounding operation and are never clamped.
var (
	ErrDebtUnderflow = errors.New("invariant violation: debt decrease exceeds recorded debt")
	ErrIdleUnderflow = errors.New("invariant violation: idle funds underflow")
)
