/*
errors.go - Centralized error types for the contribution ledger

ERROR CATEGORIES:
  1. Precondition errors - AlreadyExists, NotFound, ConcurrentModification
  2. Validation errors   - malformed or non-positive amounts, bad months
  3. Commit errors       - the store rejected an atomic batch
  4. Partial completion  - a chunked sequence stopped after some chunks

POLICY:
  Every ledger mutation is one atomic batch. A failure aborts the whole
  logical operation and is returned to the caller. The core never retries;
  callers may retry a whole operation because batches are atomic.

  Chunked sequences (monthly runs over many members, backfills) are NOT
  atomic across chunks. A failure after the first chunk is reported as a
  PartialCommitError, distinct from a plain CommitError.

USAGE:
    if errors.Is(err, ledger.ErrAlreadyExists) { ... 409 ... }
    var partial *ledger.PartialCommitError
    if errors.As(err, &partial) { ... partial.Committed chunks kept ... }
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
	// ErrAlreadyExists is returned when creating a document that exists,
	// e.g. a second contribution for the same member and month.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")

	ErrMemberNotFound       = fmt.Errorf("member %w", ErrNotFound)
	ErrContributionNotFound = fmt.Errorf("contribution %w", ErrNotFound)
	ErrPaymentNotFound      = fmt.Errorf("payment %w", ErrNotFound)
	ErrRunNotFound          = fmt.Errorf("scheduled run %w", ErrNotFound)
	ErrStatsNotFound        = fmt.Errorf("monthly stats %w", ErrNotFound)

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification is returned when a commit precondition on a
	// previously read value no longer holds.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrCommitFailed is returned when the store rejects an atomic batch.
	ErrCommitFailed = errors.New("commit failed")

	// ErrPartialCommit is returned when a chunked sequence stopped after at
	// least one chunk was committed.
	ErrPartialCommit = errors.New("partial commit")

	// ErrBatchTooLarge is returned when a single atomic group exceeds the
	// store's staged-write limit.
	ErrBatchTooLarge = errors.New("batch exceeds store write limit")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AlreadyExistsError names the document that blocked a create.
type AlreadyExistsError struct {
	Kind string // "member", "contribution"
	Key  string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Key)
}

func (e *AlreadyExistsError) Unwrap() error { return ErrAlreadyExists }

// CommitError wraps a store failure while committing a batch. The store's
// own error stays reachable through errors.Is / errors.As.
type CommitError struct {
	Writes int
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit of %d writes failed: %v", e.Writes, e.Err)
}

func (e *CommitError) Unwrap() []error { return []error{ErrCommitFailed, e.Err} }

// PartialCommitError reports a chunked sequence that stopped midway.
// Chunks [0, Committed) are durable; chunk Committed failed; the rest were
// never attempted.
type PartialCommitError struct {
	Committed int
	Total     int
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit: %d of %d chunks committed: %v", e.Committed, e.Total, e.Err)
}

func (e *PartialCommitError) Unwrap() []error { return []error{ErrPartialCommit, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrBatchTooLarge)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// isPrecondition reports errors a store returns on purpose; they are passed
// to callers as they are instead of being wrapped in CommitError.
func isPrecondition(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrValidation)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
