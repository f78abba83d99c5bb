package fetch

import "time"

// State is a point-in-time view of a Session. Data is kept while a refresh
// is loading or after a failed refresh so callers can show last-known-good
// values next to Err.
type State[T any] struct {
	Data        T
	HasData     bool
	Loading     bool
	Err         error
	RetryCount  int
	Depth       int
	Exhausted   bool
	LastFetched time.Time
	Source      Source
	// Version increments each time a changed payload is committed.
	Version uint64
}

// Stale reports whether the visible data is not backed by the latest attempt.
func (s State[T]) Stale() bool {
	return s.HasData && (s.Loading || s.Err != nil)
}
