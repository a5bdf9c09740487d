package types

import "errors"

// Sentinel errors for the control plane.
var (
	// Validation errors - surfaced synchronously, never retried
	ErrInvalidTraderID = errors.New("invalid trader id")
	ErrInvalidLimit    = errors.New("limit must be a positive integer")
	ErrInvalidConfig   = errors.New("invalid configuration")

	// Lookup errors
	ErrTraderNotFound    = errors.New("trader not found")
	ErrExecutionNotFound = errors.New("execution not found")

	// Precondition errors - client can retry with force
	ErrInsufficientData = errors.New("insufficient data for optimization")

	// Execution errors
	ErrAlreadyInProgress  = errors.New("execution already in progress")
	ErrExecutionFinalized = errors.New("execution already in terminal state")

	// Scheduler errors
	ErrSchedulerRunning = errors.New("scheduler already running")

	// Store errors
	ErrStoreUnavailable = errors.New("record store unreachable")
)
