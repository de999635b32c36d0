package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller lacks permission for this action
	ErrForbidden = errors.New("forbidden")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrInvalidMessage indicates a queue message failed validation
	ErrInvalidMessage = errors.New("invalid sync job message")

	// ErrBindingIneligible indicates the binding's status or sync state forbids syncing
	ErrBindingIneligible = errors.New("binding not eligible for sync")

	// ErrBudgetExceeded indicates a binding reached its lifetime backfill page cap
	ErrBudgetExceeded = errors.New("backfill page budget exceeded")

	// ErrSyncDisabled indicates the master sync flag is off
	ErrSyncDisabled = errors.New("sync disabled")

	// ErrServiceUnavailable indicates a backing service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")
)

// SyncError is a failure raised while running a sync for one binding.
// Retryable errors are handed back to the transport for redelivery;
// terminal ones must not be retried.
type SyncError struct {
	BindingID string
	Mode      SyncMode
	Err       error
	Retryable bool
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s for binding %s: %v", e.Mode, e.BindingID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewRetryableSyncError wraps err as a redeliverable sync failure.
func NewRetryableSyncError(bindingID string, mode SyncMode, err error) *SyncError {
	return &SyncError{BindingID: bindingID, Mode: mode, Err: err, Retryable: true}
}

// IsRetryable reports whether err should be redelivered by the transport.
// Errors that are not SyncErrors default to retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return !errors.Is(err, ErrInvalidMessage)
}

// BatchFailure is one failed message inside a batch.
type BatchFailure struct {
	JobID string
	RunID string
	Err   error
}

// BatchError aggregates the failures of a batch so the transport can
// redrive only the failed subset.
type BatchError struct {
	Total  int
	Failed []BatchFailure
}

func (e *BatchError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, f.JobID)
	}
	return fmt.Sprintf("%d of %d sync jobs failed: %s", len(e.Failed), e.Total, strings.Join(ids, ", "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedJobs maps each failed job ID to its error.
func (e *BatchError) FailedJobs() map[string]error {
	out := make(map[string]error, len(e.Failed))
	for _, f := range e.Failed {
		out[f.JobID] = f.Err
	}
	return out
}
