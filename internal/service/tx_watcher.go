package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// DefaultSettleDelay is how long TxWatcher waits after a confirmation before
// refetching, giving the indexer time to catch up.
const DefaultSettleDelay = 2 * time.Second

// confirmedRetention is how long a confirmed hash is remembered for
// deduplication once its refetch is due.
const confirmedRetention = 10 * time.Minute

// TxWatcher turns transaction confirmation signals into delayed refetches of
// the affected market. Each hash triggers at most one refetch, on its first
// false to true IsConfirmed transition.
type TxWatcher struct {
	registry *Registry
	journal  domain.Journal
	delay    time.Duration
	retain   time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	confirmed map[string]time.Time // hash -> first confirmation
	lastSweep time.Time
	pending   map[string]*time.Timer
	closed    bool
}

// NewTxWatcher creates a TxWatcher. journal may be nil. A non-positive
// delay selects DefaultSettleDelay.
func NewTxWatcher(registry *Registry, journal domain.Journal, delay time.Duration, logger *slog.Logger) *TxWatcher {
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	return &TxWatcher{
		registry:  registry,
		journal:   journal,
		delay:     delay,
		retain:    confirmedRetention,
		logger:    logger.With(slog.String("component", "tx_watcher")),
		confirmed: make(map[string]time.Time),
		pending:   make(map[string]*time.Timer),
	}
}

// Observe records a status report for a transaction against market. It
// returns true when the report schedules a refetch.
func (w *TxWatcher) Observe(ctx context.Context, market string, st domain.TxStatus) (bool, error) {
	if st.Hash == "" {
		return false, fmt.Errorf("tx_watcher: %w", domain.MissingField("hash"))
	}
	hash := strings.ToLower(st.Hash)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false, fmt.Errorf("tx_watcher: %w", domain.ErrSessionClosed)
	}
	now := time.Now()
	w.sweep(now)
	if _, seen := w.confirmed[hash]; st.IsError || !st.IsConfirmed || seen {
		w.mu.Unlock()
		return false, nil
	}
	w.confirmed[hash] = now
	w.pending[hash] = time.AfterFunc(w.delay, func() { w.fire(market, hash) })
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "transaction confirmed, refetch scheduled",
		slog.String("market", market),
		slog.String("hash", hash),
		slog.String("action", string(st.Action)),
		slog.Duration("delay", w.delay),
	)

	if w.journal != nil {
		err := w.journal.RecordConfirmation(ctx, domain.Confirmation{
			Market:     market,
			Hash:       hash,
			Action:     st.Action,
			ObservedAt: time.Now().UTC(),
		})
		if err != nil {
			w.logger.WarnContext(ctx, "journal confirmation failed",
				slog.String("hash", hash),
				slog.String("error", err.Error()),
			)
		}
	}
	return true, nil
}

// Pending returns the number of refetches waiting on their settle delay.
func (w *TxWatcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close cancels every scheduled refetch.
func (w *TxWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for hash, t := range w.pending {
		t.Stop()
		delete(w.pending, hash)
	}
}

// sweep forgets hashes whose refetch is done and whose retention elapsed.
// It runs at most once per retention period. Callers hold w.mu.
func (w *TxWatcher) sweep(now time.Time) {
	if now.Sub(w.lastSweep) < w.retain {
		return
	}
	w.lastSweep = now
	for hash, at := range w.confirmed {
		if _, waiting := w.pending[hash]; !waiting && now.Sub(at) >= w.delay+w.retain {
			delete(w.confirmed, hash)
		}
	}
}

func (w *TxWatcher) fire(market, hash string) {
	w.mu.Lock()
	if _, ok := w.pending[hash]; !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, hash)
	w.mu.Unlock()

	if err := w.registry.Refetch(market); err != nil {
		w.logger.Warn("refetch after confirmation failed",
			slog.String("market", market),
			slog.String("hash", hash),
			slog.String("error", err.Error()),
		)
	}
}
