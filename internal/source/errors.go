package source

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter fetch failures. All kinds except
// KindUnsupported are transient and consumed by the scheduler's retry
// state machine.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
	KindNotFound    ErrorKind = "not_found"
	KindMalformed   ErrorKind = "malformed"
	KindUnsupported ErrorKind = "unsupported"
)

// FetchError is the value adapters return on failure. It never escapes
// the scheduler as a panic; it drives retry/backoff decisions.
type FetchError struct {
	Kind     ErrorKind
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.SourceID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.SourceID, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

func NewFetchError(kind ErrorKind, sourceID string, err error) *FetchError {
	return &FetchError{Kind: kind, SourceID: sourceID, Err: err}
}

// KindOf extracts the error kind, defaulting to KindMalformed for errors
// that are not FetchErrors (an adapter bug, treated as transient).
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindMalformed
}

// Fatal reports whether the error should stop retrying immediately.
func Fatal(err error) bool {
	return KindOf(err) == KindUnsupported
}
