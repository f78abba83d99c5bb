package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrMissingEssentialField = errors.New("missing essential field")
	ErrMalformedEvent        = errors.New("malformed event record")
	ErrMalformedRead         = errors.New("malformed read result")
	ErrLoopGuardExhausted    = errors.New("fetch loop guard exhausted")
	ErrSessionClosed         = errors.New("fetch session closed")
	ErrInvalidOption         = errors.New("invalid option index")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrBridgeNotInitialized  = errors.New("bridge not initialized")
	ErrRateLimited           = errors.New("rate limited")
	ErrUnauthorized          = errors.New("unauthorized")
)

// ErrorKind classifies a FetchError for callers that branch on it.
type ErrorKind string

const (
	// KindSource is a transient failure of the indexer or read layer.
	KindSource ErrorKind = "source"
	// KindValidation means the source answered but the data could not be
	// turned into a snapshot.
	KindValidation ErrorKind = "validation"
	// KindLoopGuard means the session refuses further automatic fetches
	// until a manual refetch.
	KindLoopGuard ErrorKind = "loop_guard"
)

// FetchError is the typed error surfaced by fetch sessions.
type FetchError struct {
	Kind ErrorKind
	Op   string
	Err  error
	// Primary holds the primary source's error when the fallback also failed.
	Primary error
}

func (e *FetchError) Error() string {
	if e.Primary != nil {
		return fmt.Sprintf("%s: %s: %v (primary: %v)", e.Op, e.Kind, e.Err, e.Primary)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Message returns text suitable for display next to a manual-retry control.
func (e *FetchError) Message() string {
	switch e.Kind {
	case KindLoopGuard:
		return "Automatic refresh stopped after repeated attempts. Retry manually."
	case KindValidation:
		return "Market data is incomplete right now. Showing the last known state."
	default:
		return "Market data sources are unavailable. Showing the last known state."
	}
}

// ClassifyError maps an arbitrary producer error onto an ErrorKind.
func ClassifyError(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrLoopGuardExhausted):
		return KindLoopGuard
	case errors.Is(err, ErrMissingEssentialField),
		errors.Is(err, ErrMalformedEvent),
		errors.Is(err, ErrMalformedRead):
		return KindValidation
	default:
		return KindSource
	}
}

// MissingField wraps ErrMissingEssentialField with the field name.
func MissingField(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingEssentialField, name)
}
