package service

import (
	"context"
	"errors"
	"fmt"
)

// Whole-operation failures surface as one of these tagged errors so the
// outer transport can render a structured failure. Per-item failures inside
// a batch never escalate; they are logged and skipped.
var (
	// ErrInvalidSession marks an unknown or expired session id.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidQuery marks a malformed or empty query.
	ErrInvalidQuery = errors.New("invalid query")
)

// UpstreamError wraps a failure to reach or read a document source.
type UpstreamError struct {
	URL string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream fetch failed for %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Timeout reports whether the wrapped failure was a deadline expiry.
func (e *UpstreamError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
