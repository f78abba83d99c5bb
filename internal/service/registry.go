package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// Registry owns one Tracker per market address. Trackers are created on
// first use and live until Untrack or Close.
type Registry struct {
	ctx      context.Context
	deps     TrackerDeps
	cfg      TrackerConfig
	trackers *xsync.Map[string, *Tracker]
	closed   atomic.Bool
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Trackers inherit ctx.
func NewRegistry(ctx context.Context, deps TrackerDeps, cfg TrackerConfig) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{
		ctx:      ctx,
		deps:     deps,
		cfg:      cfg,
		trackers: xsync.NewMap[string, *Tracker](),
		logger:   deps.Logger.With(slog.String("component", "registry")),
	}
}

// Track returns the tracker for address, starting one if needed.
func (r *Registry) Track(address string) (*Tracker, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("registry: track %s: %w", address, domain.ErrSessionClosed)
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("registry: track %q: %w", address, domain.ErrInvalidAddress)
	}
	key := strings.ToLower(address)

	t, loaded := r.trackers.LoadOrCompute(key, func() (*Tracker, bool) {
		return NewTracker(r.ctx, key, r.deps, r.cfg), false
	})
	if !loaded {
		r.logger.Info("tracking market", slog.String("market", key))
	}
	return t, nil
}

// View returns the current view of address, tracking it first when needed.
func (r *Registry) View(address string) (View, error) {
	t, err := r.Track(address)
	if err != nil {
		return View{}, err
	}
	return t.View(), nil
}

// Get returns the tracker for address if one is running.
func (r *Registry) Get(address string) (*Tracker, bool) {
	return r.trackers.Load(strings.ToLower(address))
}

// Markets returns the tracked addresses in sorted order.
func (r *Registry) Markets() []string {
	out := make([]string, 0, r.trackers.Size())
	r.trackers.Range(func(k string, _ *Tracker) bool {
		out = append(out, k)
		return true
	})
	slices.Sort(out)
	return out
}

// Refetch forces a refetch of one market, or of every market when address
// is empty.
func (r *Registry) Refetch(address string) error {
	return r.each(address, (*Tracker).Refetch)
}

// Visible forwards a visibility signal to one market, or to every market
// when address is empty.
func (r *Registry) Visible(address string) error {
	return r.each(address, (*Tracker).Visible)
}

// Untrack stops and removes the tracker for address.
func (r *Registry) Untrack(address string) bool {
	t, ok := r.trackers.LoadAndDelete(strings.ToLower(address))
	if ok {
		t.Close()
		r.logger.Info("stopped tracking market", slog.String("market", t.Address()))
	}
	return ok
}

// Close stops every tracker. Track fails afterwards.
func (r *Registry) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.trackers.Range(func(k string, t *Tracker) bool {
		r.trackers.Delete(k)
		t.Close()
		return true
	})
}

func (r *Registry) each(address string, fn func(*Tracker)) error {
	if address == "" {
		r.trackers.Range(func(_ string, t *Tracker) bool {
			fn(t)
			return true
		})
		return nil
	}
	t, ok := r.Get(address)
	if !ok {
		return fmt.Errorf("registry: market %s: %w", address, domain.ErrNotFound)
	}
	fn(t)
	return nil
}
