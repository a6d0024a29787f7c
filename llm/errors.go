package llm

import (
	"errors"
	"fmt"
)

// Error classification for provider calls. Transient errors may succeed on
// another attempt; fatal errors indicate configuration or request problems
// that retrying cannot fix.

// TransientError wraps a temporary provider error (rate limit, timeout,
// 5xx). The orchestrator's backoff policy governs whether the evaluate
// stage is retried.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError wraps a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }

func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error may succeed on retry.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// MalformedOutputError reports a response that still failed schema
// validation after the single repair attempt. The evaluate stage fails with
// this error; it is not retried further at the client layer.
type MalformedOutputError struct {
	Detail string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed LLM output: %s", e.Detail)
}

// IsMalformedOutput returns true if the error is a schema violation that
// survived the repair attempt.
func IsMalformedOutput(err error) bool {
	var malformed *MalformedOutputError
	return errors.As(err, &malformed)
}
