/*
errors.go - Error taxonomy for the ledger core

ERROR CATEGORIES:
  1. ErrValidation      - malformed record or draft, caught before any write
  2. ErrWriteRejected   - the write authority refused the append
  3. ErrSyncUnavailable - the ledger could not be read
  4. ErrNotFound        - no record at that position / content id

USAGE:
  if errors.Is(err, ledger.ErrNotFound) {
      ...
  }

None of these are retried inside the core. Retry policy belongs to callers.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed records or drafts.
	ErrValidation = errors.New("validation failed")

	// ErrWriteRejected is returned when an append is refused: unauthenticated
	// writer, transport failure, or a storage failure at the write authority.
	// The ledger is unchanged when this is returned.
	ErrWriteRejected = errors.New("write rejected")

	// ErrSyncUnavailable is returned when the ledger cannot be read.
	ErrSyncUnavailable = errors.New("ledger unavailable")

	// ErrNotFound is returned when a position or content id has no record.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned by an Authorizer for an unknown writer.
	// It always travels wrapped in a WriteRejected chain.
	ErrUnauthorized = errors.New("unauthorized writer")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// PositionError reports a position lookup beyond the end of the ledger.
type PositionError struct {
	Position uint64
	Count    uint64
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position %d out of range (count %d)", e.Position, e.Count)
}

func (e *PositionError) Unwrap() error {
	return ErrNotFound
}

// WriteRejected wraps the underlying cause with ErrWriteRejected so both
// errors.Is(err, ErrWriteRejected) and errors.Is(err, cause) hold.
func WriteRejected(cause error) error {
	if cause == nil || errors.Is(cause, ErrWriteRejected) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrWriteRejected, cause)
}

// Unavailable wraps the underlying cause with ErrSyncUnavailable.
func Unavailable(cause error) error {
	if cause == nil || errors.Is(cause, ErrSyncUnavailable) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrSyncUnavailable, cause)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed when the caller tries
// again later. The core itself never retries.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	return errors.Is(err, ErrSyncUnavailable) || errors.Is(err, ErrWriteRejected)
}
