// Package llm defines the completion client the support stages call and
// its providers: an OpenAI-compatible HTTP client, the Claude CLI, and a
// scripted mock for tests.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client performs a single completion.
// Implementations must be safe for concurrent use; the classification
// branches share one client.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Error is a provider failure with the operation that failed.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

// NewError wraps err for operation op.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is an *Error marked retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	return errors.As(err, &llmErr) && llmErr.Retryable
}

// ErrEmptyResponse indicates the provider returned no content.
var ErrEmptyResponse = errors.New("empty response")

// ParseError reports structured output that did not decode.
type ParseError struct {
	Content string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse structured output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
