package fetch

import (
	"context"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// Source records which producer served a payload.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// Reconcile returns the primary's payload, or the fallback's when the
// primary fails. The two producers never run concurrently and the fallback
// is not consulted once ctx is done. When both fail the returned
// *domain.FetchError wraps the fallback's error and carries the primary's.
// A nil fallback returns the primary's error.
func Reconcile[T any](ctx context.Context, primary, fallback Producer[T]) (T, Source, error) {
	var zero T

	data, err := primary(ctx)
	if err == nil {
		return data, SourcePrimary, nil
	}
	if fallback == nil || ctx.Err() != nil {
		return zero, "", &domain.FetchError{
			Kind: domain.ClassifyError(err),
			Op:   "primary",
			Err:  err,
		}
	}

	data, fbErr := fallback(ctx)
	if fbErr == nil {
		return data, SourceFallback, nil
	}
	return zero, "", &domain.FetchError{
		Kind:    domain.ClassifyError(fbErr),
		Op:      "fallback",
		Err:     fbErr,
		Primary: err,
	}
}
