package models

import "errors"

// Domain errors returned by the repository and service layers. Handlers map
// them to HTTP status codes with errors.Is; callers may wrap them with %w.
var (
	// ErrNotFound indicates the requested listing, participant or user
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the caller is neither the listing owner
	// nor the participant for the requested action.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidStateTransition indicates the operation is not legal from
	// the current participant or listing status.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrCapacityExceeded indicates no free slot was available at
	// accept-time. The participant stays pending.
	ErrCapacityExceeded = errors.New("listing capacity exceeded")

	// ErrInvalidHours indicates a non-positive hours amount.
	ErrInvalidHours = errors.New("hours must be positive")

	// ErrAlreadyApplied indicates a non-terminal participant already
	// exists for this (listing, applicant) pair.
	ErrAlreadyApplied = errors.New("already applied to this listing")

	// ErrDuplicateTransfer indicates a transfer already exists for the
	// participant. The orchestrator treats it as "already completed".
	ErrDuplicateTransfer = errors.New("transfer already exists for participant")

	// ErrUnavailable indicates a transient persistence failure that
	// survived the bounded retry.
	ErrUnavailable = errors.New("service temporarily unavailable")

	// ErrEmailTaken indicates a signup with an email that is already
	// registered.
	ErrEmailTaken = errors.New("user with this email already exists")

	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("invalid email or password")
)
