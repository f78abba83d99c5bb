package fetch

import (
	"context"
	"log/slog"
	"reflect"
	"time"
)

const (
	DefaultRetryCount      = 3
	DefaultRetryDelay      = time.Second
	DefaultMaxDepth        = 5
	DefaultRefreshInterval = 2 * time.Minute
	DefaultVisibilityIdle  = 30 * time.Second
)

// Producer fetches one payload. It must honour ctx cancellation.
type Producer[T any] func(ctx context.Context) (T, error)

// Options configures a Session. Zero values select the defaults above.
type Options[T any] struct {
	// Name labels log lines and errors.
	Name string

	// Dependencies is the initial dependency vector. Later changes are made
	// with Session.SetDependencies and trigger a fetch.
	Dependencies []any

	// Enabled gates every fetch. Nil means enabled.
	Enabled *bool

	// RetryCount is the number of automatic retries after a failed attempt.
	// A negative value disables retries.
	RetryCount int
	RetryDelay time.Duration

	// MaxDepth caps cumulative retry and dependency-triggered fetches
	// between two committed payloads or manual refetches.
	MaxDepth int

	AutoRefresh     bool
	RefreshInterval time.Duration
	VisibilityIdle  time.Duration

	// Equal decides whether a new payload differs from the previous one.
	Equal func(a, b T) bool

	OnSuccess func(data T)
	OnError   func(err error)
	OnRetry   func(attempt int)

	Logger *slog.Logger
}

// Bool returns a pointer to b, for Options.Enabled.
func Bool(b bool) *bool { return &b }

func (o Options[T]) withDefaults() Options[T] {
	if o.Name == "" {
		o.Name = "fetch"
	}
	switch {
	case o.RetryCount == 0:
		o.RetryCount = DefaultRetryCount
	case o.RetryCount < 0:
		o.RetryCount = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.VisibilityIdle <= 0 {
		o.VisibilityIdle = DefaultVisibilityIdle
	}
	if o.Equal == nil {
		o.Equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
