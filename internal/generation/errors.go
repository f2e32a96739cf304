package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by the generation package
var (
	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry.
	// Providers wrap every retryable failure with it; any other error is permanent.
	ErrTransientFailure = errors.New("transient provider failure")

	// ErrRetriesExhausted replaces ErrTransientFailure once the retry budget is spent.
	ErrRetriesExhausted = errors.New("transient failure persisted after retries")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrUnknownProvider is returned when no provider is registered under a name
	ErrUnknownProvider = errors.New("unknown provider")
)

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFailure)
}

// RecordError is a permanent failure to generate samples for one record.
// It is counted against the task's error rate and never aborts a batch.
type RecordError struct {
	RecordID string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s failed after %d attempt(s): %v", e.RecordID, e.Attempts, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RecordError) Unwrap() error {
	return e.Err
}
