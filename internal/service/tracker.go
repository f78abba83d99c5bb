package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/marketstate/internal/cache/redis"
	"github.com/alanyoungcy/marketstate/internal/domain"
	"github.com/alanyoungcy/marketstate/internal/fetch"
	"github.com/alanyoungcy/marketstate/internal/notify"
	"github.com/alanyoungcy/marketstate/internal/snapshot"
)

// Update envelope types published on the signal bus.
const (
	UpdateSnapshot = "snapshot"
	UpdateError    = "error"
)

// sinkTimeout bounds each bus, cache and journal write made on a change.
const sinkTimeout = 5 * time.Second

// TrackerDeps are the collaborators shared by every tracker. Bus, Cache,
// Journal and Notifier are optional.
type TrackerDeps struct {
	Indexer  domain.EventIndexer
	Reader   domain.StateReader
	Bus      domain.SignalBus
	Cache    domain.SnapshotCache
	Journal  domain.Journal
	Notifier *notify.Notifier
	Logger   *slog.Logger
}

// TrackerConfig holds the per-market fetch policy.
type TrackerConfig struct {
	// Decimals is the collateral precision used to interpret indexer amounts.
	Decimals uint8

	RetryCount      int
	RetryDelay      time.Duration
	MaxDepth        int
	RefreshInterval time.Duration
	VisibilityIdle  time.Duration

	// LiquidityInterval is the refresh period of the on-chain liquidity
	// overlay. It is usually much shorter than RefreshInterval.
	LiquidityInterval time.Duration
}

// View is a point-in-time picture of one tracked market.
type View struct {
	Address     string                 `json:"address"`
	Snapshot    *domain.MarketSnapshot `json:"snapshot"`
	Version     uint64                 `json:"version"`
	Loading     bool                   `json:"loading"`
	Stale       bool                   `json:"stale"`
	Exhausted   bool                   `json:"exhausted"`
	Source      string                 `json:"source,omitempty"`
	LastFetched time.Time              `json:"last_fetched"`
	ErrorKind   domain.ErrorKind       `json:"error_kind,omitempty"`
	Error       string                 `json:"error,omitempty"`

	Err *domain.FetchError `json:"-"`
}

// Tracker keeps one market's merged snapshot current. It runs two fetch
// sessions: the snapshot session builds the base from the indexer, falling
// back to on-chain reads, and the liquidity session overlays fresh pool
// figures once a base exists.
type Tracker struct {
	address string
	deps    TrackerDeps
	cfg     TrackerConfig
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	overlay     *snapshot.Overlay
	base        *fetch.Session[*domain.MarketSnapshot]
	liquidity   *fetch.Session[domain.LiquidityReads]
	optionCount atomic.Int64

	// Owned by the overlay's change callback, which is serialised.
	lastState domain.MarketState

	mu      sync.Mutex
	subs    map[int]chan View
	nextSub int
	closed  bool
}

// NewTracker starts tracking address. The first fetch is issued immediately.
func NewTracker(ctx context.Context, address string, deps TrackerDeps, cfg TrackerConfig) *Tracker {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	address = strings.ToLower(address)
	ctx, cancel := context.WithCancel(ctx)

	t := &Tracker{
		address: address,
		deps:    deps,
		cfg:     cfg,
		logger: deps.Logger.With(
			slog.String("component", "tracker"),
			slog.String("market", address),
		),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]chan View),
	}
	t.overlay = snapshot.NewOverlay(t.onChange)

	// The liquidity session must exist before the snapshot session can
	// commit a base and enable it.
	t.liquidity = fetch.Observe(ctx, t.fetchLiquidity, nil, fetch.Options[domain.LiquidityReads]{
		Name:            "liquidity:" + address,
		Dependencies:    []any{0},
		Enabled:         fetch.Bool(false),
		RetryCount:      cfg.RetryCount,
		RetryDelay:      cfg.RetryDelay,
		MaxDepth:        cfg.MaxDepth,
		AutoRefresh:     true,
		RefreshInterval: cfg.LiquidityInterval,
		VisibilityIdle:  cfg.VisibilityIdle,
		Equal:           func(a, b domain.LiquidityReads) bool { return a.Equal(b) },
		OnSuccess:       t.overlay.Apply,
		OnError:         t.onLiquidityError,
		Logger:          deps.Logger,
	})

	// Started disabled so no callback can run before t.base is set.
	t.base = fetch.Observe(ctx, t.fetchFromIndexer, t.fetchFromChain, fetch.Options[*domain.MarketSnapshot]{
		Name:            "snapshot:" + address,
		Dependencies:    []any{address},
		Enabled:         fetch.Bool(false),
		RetryCount:      cfg.RetryCount,
		RetryDelay:      cfg.RetryDelay,
		MaxDepth:        cfg.MaxDepth,
		AutoRefresh:     true,
		RefreshInterval: cfg.RefreshInterval,
		VisibilityIdle:  cfg.VisibilityIdle,
		Equal:           func(a, b *domain.MarketSnapshot) bool { return a.Equal(b) },
		OnSuccess:       t.onBase,
		OnError:         t.onBaseError,
		Logger:          deps.Logger,
	})
	t.base.SetEnabled(true)

	return t
}

// Address returns the lower-cased market address.
func (t *Tracker) Address() string { return t.address }

// Current returns the latest merged snapshot, or nil before the first
// successful fetch.
func (t *Tracker) Current() *domain.MarketSnapshot {
	snap, _ := t.overlay.Current()
	return snap
}

// View returns the merged snapshot together with the fetch status.
func (t *Tracker) View() View {
	snap, version := t.overlay.Current()
	bs := t.base.State()
	ls := t.liquidity.State()

	v := View{
		Address:     t.address,
		Snapshot:    snap,
		Version:     version,
		Loading:     bs.Loading || ls.Loading,
		Exhausted:   bs.Exhausted || ls.Exhausted,
		Source:      string(bs.Source),
		LastFetched: bs.LastFetched,
	}
	if ls.LastFetched.After(v.LastFetched) {
		v.LastFetched = ls.LastFetched
	}

	err := bs.Err
	if err == nil {
		err = ls.Err
	}
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		v.Err = fe
		v.ErrorKind = fe.Kind
		v.Error = fe.Message()
		v.Stale = snap != nil
	}
	return v
}

// Refetch forces both sessions to fetch, clearing their retry budgets.
func (t *Tracker) Refetch() {
	t.base.Refetch()
	t.liquidity.Refetch()
}

// Visible forwards a visibility signal to both sessions.
func (t *Tracker) Visible() {
	t.base.Visible()
	t.liquidity.Visible()
}

// Subscribe returns a channel that receives the view after every merged
// change and every fetch error. Only the latest view is buffered. The
// channel is closed by the returned cancel func or by Close.
func (t *Tracker) Subscribe() (<-chan View, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan View, 1)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// Close stops both sessions and closes every subscriber channel.
func (t *Tracker) Close() {
	t.base.Close()
	t.liquidity.Close()
	t.cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

func (t *Tracker) fetchFromIndexer(ctx context.Context) (*domain.MarketSnapshot, error) {
	events, err := t.deps.Indexer.FetchMarketEvents(ctx, t.address)
	if err != nil {
		return nil, err
	}
	return snapshot.FromEvents(t.address, events, t.cfg.Decimals)
}

func (t *Tracker) fetchFromChain(ctx context.Context) (*domain.MarketSnapshot, error) {
	rb, err := t.deps.Reader.ReadMarket(ctx, t.address)
	if err != nil {
		return nil, err
	}
	return snapshot.FromReads(t.address, rb)
}

func (t *Tracker) fetchLiquidity(ctx context.Context) (domain.LiquidityReads, error) {
	return t.deps.Reader.ReadLiquidity(ctx, t.address, int(t.optionCount.Load()))
}

func (t *Tracker) onBase(snap *domain.MarketSnapshot) {
	n := len(snap.Options)
	t.optionCount.Store(int64(n))
	t.overlay.SetBase(snap)
	t.liquidity.SetDependencies(n)
	t.liquidity.SetEnabled(true)
}

func (t *Tracker) onChange(snap *domain.MarketSnapshot, version uint64) {
	t.logger.Info("market snapshot updated",
		slog.Uint64("version", version),
		slog.String("state", string(snap.State)),
		slog.String("total_liquidity", snap.TotalLiquidity),
		slog.String("source", string(snap.Source)),
	)

	t.publish(domain.SnapshotUpdate{
		Type:      UpdateSnapshot,
		Snapshot:  snap,
		Version:   version,
		Timestamp: time.Now().UTC(),
	})

	if t.deps.Cache != nil {
		ctx, cancel := context.WithTimeout(t.ctx, sinkTimeout)
		if err := t.deps.Cache.Set(ctx, *snap); err != nil {
			t.logger.Warn("snapshot cache set failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	prev := t.lastState
	t.lastState = snap.State
	if prev != "" && prev != snap.State {
		t.transition(prev, snap)
	}

	t.notifySubscribers(t.View())
}

func (t *Tracker) transition(from domain.MarketState, snap *domain.MarketSnapshot) {
	t.logger.Info("market state transition",
		slog.String("from", string(from)),
		slog.String("to", string(snap.State)),
	)

	ctx, cancel := context.WithTimeout(t.ctx, sinkTimeout)
	defer cancel()

	if t.deps.Journal != nil {
		err := t.deps.Journal.RecordTransition(ctx, domain.Transition{
			Market:        t.address,
			From:          from,
			To:            snap.State,
			WinningOption: snap.WinningOption,
			Source:        snap.Source,
			ObservedAt:    time.Now().UTC(),
		})
		if err != nil {
			t.logger.Warn("journal transition failed", slog.String("error", err.Error()))
		}
	}

	switch snap.State {
	case domain.MarketStateProposed:
		a := notify.Alert{
			Event:  notify.EventMarketProposed,
			Market: t.address,
			Title:  "Resolution proposed",
			Body:   snap.Question,
		}
		if snap.ProposedOption != nil {
			a.Fields = append(a.Fields, notify.Field{Name: "Proposed", Value: optionLabel(snap, *snap.ProposedOption)})
		}
		t.alert(ctx, a)
	case domain.MarketStateResolved:
		a := notify.Alert{
			Event:  notify.EventMarketResolved,
			Market: t.address,
			Title:  "Market resolved",
			Body:   snap.Question,
			Fields: []notify.Field{{Name: "Total liquidity", Value: snap.TotalLiquidity}},
		}
		if snap.WinningOption != nil {
			a.Fields = append(a.Fields, notify.Field{Name: "Winner", Value: optionLabel(snap, *snap.WinningOption)})
		}
		t.alert(ctx, a)
	}
}

func (t *Tracker) onBaseError(err error) {
	t.onError("snapshot", err)
}

func (t *Tracker) onLiquidityError(err error) {
	t.onError("liquidity", err)
}

func (t *Tracker) onError(session string, err error) {
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		fe = &domain.FetchError{Kind: domain.ClassifyError(err), Op: session, Err: err}
	}

	if snap, version := t.overlay.Current(); snap != nil {
		t.publish(domain.SnapshotUpdate{
			Type:      UpdateError,
			Snapshot:  snap,
			Error:     fe.Message(),
			Stale:     true,
			Version:   version,
			Timestamp: time.Now().UTC(),
		})
	}

	if fe.Kind == domain.KindLoopGuard {
		ctx, cancel := context.WithTimeout(t.ctx, sinkTimeout)
		t.alert(ctx, notify.Alert{
			Event:  notify.EventFetchExhausted,
			Market: t.address,
			Title:  "Automatic refresh stopped",
			Body:   fe.Message(),
			Fields: []notify.Field{{Name: "Session", Value: session}},
		})
		cancel()
	}

	// The failing session has not published this error yet.
	v := t.View()
	v.Err, v.ErrorKind, v.Error = fe, fe.Kind, fe.Message()
	v.Stale = v.Snapshot != nil
	v.Exhausted = v.Exhausted || fe.Kind == domain.KindLoopGuard
	t.notifySubscribers(v)
}

func (t *Tracker) publish(u domain.SnapshotUpdate) {
	if t.deps.Bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(t.ctx, sinkTimeout)
	defer cancel()
	if err := redis.PublishUpdate(ctx, t.deps.Bus, u); err != nil {
		t.logger.Warn("publish update failed",
			slog.String("type", u.Type),
			slog.String("error", err.Error()),
		)
	}
}

func (t *Tracker) alert(ctx context.Context, a notify.Alert) {
	if err := t.deps.Notifier.Notify(ctx, a); err != nil {
		t.logger.Warn("alert failed", slog.String("event", a.Event), slog.String("error", err.Error()))
	}
}

func (t *Tracker) notifySubscribers(v View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func optionLabel(snap *domain.MarketSnapshot, i int) string {
	if i >= 0 && i < len(snap.Options) {
		return fmt.Sprintf("%s (#%d)", snap.Options[i], i)
	}
	return "#" + strconv.Itoa(i)
}
