// Package fetch runs self-refreshing data sessions over a primary and a
// fallback producer. Each Session owns its state inside a single goroutine;
// triggers, results and timers are delivered to it as messages, so no two
// fetches for one session ever overlap and stale timers cannot act after a
// manual refetch or Close.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

type trigger int

const (
	triggerMount trigger = iota
	triggerDeps
	triggerTimer
	triggerVisible
	triggerManual
	triggerRetry
	triggerEnabled
)

func (t trigger) String() string {
	switch t {
	case triggerMount:
		return "mount"
	case triggerDeps:
		return "dependencies"
	case triggerTimer:
		return "timer"
	case triggerVisible:
		return "visibility"
	case triggerManual:
		return "manual"
	case triggerRetry:
		return "retry"
	case triggerEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

type attemptResult[T any] struct {
	data   T
	source Source
	err    error
}

type message[T any] struct {
	trigger trigger
	gen     uint64

	setDeps bool
	deps    []any

	enabled *bool

	result *attemptResult[T]
}

// Session is a running fetch loop. Create one with Observe and release it
// with Close.
type Session[T any] struct {
	name     string
	primary  Producer[T]
	fallback Producer[T]
	opts     Options[T]
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	msgs   chan message[T]
	done   chan struct{}

	mu      sync.RWMutex
	view    State[T]
	subs    map[int]chan State[T]
	nextSub int
	closed  bool

	// Owned by run.
	deps        []any
	enabled     bool
	inFlight    bool
	pendingDeps bool
	fetchCancel context.CancelFunc
	retryGen    uint64
	retryTimer  *time.Timer
	ticker      *time.Ticker
	st          State[T]
}

// Observe starts a session and issues the initial fetch if enabled.
func Observe[T any](ctx context.Context, primary, fallback Producer[T], opts Options[T]) *Session[T] {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	s := &Session[T]{
		name:     opts.Name,
		primary:  primary,
		fallback: fallback,
		opts:     opts,
		logger:   opts.Logger.With("component", "fetch", "session", opts.Name),
		ctx:      ctx,
		cancel:   cancel,
		msgs:     make(chan message[T], 64),
		done:     make(chan struct{}),
		subs:     make(map[int]chan State[T]),
		deps:     cloneDeps(opts.Dependencies),
		enabled:  opts.Enabled == nil || *opts.Enabled,
	}

	go s.run()
	s.post(message[T]{trigger: triggerMount})
	return s
}

// State returns a copy of the current state.
func (s *Session[T]) State() State[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Refetch forces a fetch, clearing retry and depth counters and cancelling
// any scheduled retry.
func (s *Session[T]) Refetch() { s.post(message[T]{trigger: triggerManual}) }

// Visible reports that the consumer became visible again. It refreshes when
// auto refresh is on and the last successful fetch is older than
// Options.VisibilityIdle.
func (s *Session[T]) Visible() { s.post(message[T]{trigger: triggerVisible}) }

// SetDependencies replaces the dependency vector. A vector deeply equal to
// the current one is ignored.
func (s *Session[T]) SetDependencies(deps ...any) {
	s.post(message[T]{setDeps: true, deps: cloneDeps(deps)})
}

// SetEnabled toggles the session. Enabling a disabled session fetches.
func (s *Session[T]) SetEnabled(enabled bool) {
	s.post(message[T]{enabled: Bool(enabled)})
}

// Subscribe returns a channel that receives the state after each committed
// payload and each error transition. The channel holds only the latest
// state; a slow reader skips intermediate ones. It is closed by the returned
// cancel func or by Close.
func (s *Session[T]) Subscribe() (<-chan State[T], func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State[T], 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Close stops the loop, cancels any in-flight fetch and pending timers, and
// waits for the loop to exit. Results arriving afterwards are discarded.
func (s *Session[T]) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once the session has shut down.
func (s *Session[T]) Done() <-chan struct{} { return s.done }

func (s *Session[T]) post(m message[T]) {
	select {
	case s.msgs <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session[T]) run() {
	defer close(s.done)
	defer s.shutdown()

	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C
		}

		select {
		case <-s.ctx.Done():
			return
		case <-tick:
			s.handleTrigger(triggerTimer, 0)
		case m := <-s.msgs:
			s.handle(m)
		}
		s.publish()
	}
}

func (s *Session[T]) handle(m message[T]) {
	switch {
	case m.result != nil:
		s.handleResult(*m.result)
	case m.setDeps:
		if reflect.DeepEqual(m.deps, s.deps) {
			return
		}
		s.deps = m.deps
		s.handleTrigger(triggerDeps, 0)
	case m.enabled != nil:
		was := s.enabled
		s.enabled = *m.enabled
		if !was && s.enabled {
			s.handleTrigger(triggerEnabled, 0)
		}
	default:
		s.handleTrigger(m.trigger, m.gen)
	}
}

func (s *Session[T]) handleTrigger(t trigger, gen uint64) {
	switch t {
	case triggerRetry:
		if gen != s.retryGen {
			return
		}
		s.retryTimer = nil
	case triggerManual:
		if !s.enabled {
			return
		}
		s.cancelRetry()
		s.st.RetryCount = 0
		s.st.Depth = 0
		if s.st.Exhausted {
			s.st.Exhausted = false
			s.st.Err = nil
		}
	case triggerVisible:
		if !s.opts.AutoRefresh || !s.st.HasData ||
			time.Since(s.st.LastFetched) < s.opts.VisibilityIdle {
			return
		}
	}

	if s.inFlight {
		if t == triggerDeps {
			s.pendingDeps = true
		}
		s.logger.Debug("trigger dropped while in flight", "trigger", t.String())
		return
	}
	if !s.enabled {
		return
	}

	if s.st.Depth >= s.opts.MaxDepth {
		if (t == triggerRetry || t == triggerDeps) && !s.st.Exhausted {
			s.exhaust()
		}
		return
	}
	if t == triggerDeps {
		s.st.Depth++
	}

	s.start(t)
}

func (s *Session[T]) start(t trigger) {
	s.inFlight = true
	s.st.Loading = true

	ctx, cancel := context.WithCancel(s.ctx)
	s.fetchCancel = cancel
	s.publish()

	s.logger.Debug("fetch started", "trigger", t.String(), "depth", s.st.Depth)
	go func() {
		res := s.attempt(ctx)
		s.post(message[T]{result: &res})
	}()
}

func (s *Session[T]) attempt(ctx context.Context) (res attemptResult[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = attemptResult[T]{err: &domain.FetchError{
				Kind: domain.KindSource,
				Op:   s.name,
				Err:  fmt.Errorf("producer panic: %v", r),
			}}
		}
	}()

	data, src, err := Reconcile(ctx, s.primary, s.fallback)
	return attemptResult[T]{data: data, source: src, err: err}
}

func (s *Session[T]) handleResult(res attemptResult[T]) {
	s.inFlight = false
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	s.st.Loading = false

	if res.err != nil {
		s.fail(res.err)
	} else {
		s.succeed(res)
	}

	if s.pendingDeps {
		s.pendingDeps = false
		s.handleTrigger(triggerDeps, 0)
	}
}

func (s *Session[T]) succeed(res attemptResult[T]) {
	hadErr := s.st.Err != nil
	s.st.Err = nil

	// An unchanged payload keeps RetryCount and Depth, so separate transient
	// failures draw on one retry budget until a changed payload commits or
	// Refetch resets it.
	if s.st.HasData && s.opts.Equal(s.st.Data, res.data) {
		s.st.LastFetched = time.Now()
		s.logger.Debug("payload unchanged")
		if hadErr {
			s.notify()
		}
		return
	}

	s.st.Data = res.data
	s.st.HasData = true
	s.st.Source = res.source
	s.st.RetryCount = 0
	s.st.Depth = 0
	s.st.Exhausted = false
	s.st.LastFetched = time.Now()
	s.st.Version++

	if s.opts.AutoRefresh && s.ticker == nil {
		s.ticker = time.NewTicker(s.opts.RefreshInterval)
	}

	s.logger.Debug("payload committed", "source", string(res.source), "version", s.st.Version)
	if s.opts.OnSuccess != nil {
		s.opts.OnSuccess(res.data)
	}
	s.notify()
}

func (s *Session[T]) fail(err error) {
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		fe.Op = s.name
	} else {
		fe = &domain.FetchError{Kind: domain.ClassifyError(err), Op: s.name, Err: err}
	}
	s.st.Err = fe

	if s.opts.OnError != nil {
		s.opts.OnError(fe)
	}

	if s.st.RetryCount < s.opts.RetryCount {
		if s.st.Depth+1 >= s.opts.MaxDepth {
			s.exhaust()
			return
		}
		s.st.RetryCount++
		s.st.Depth++
		s.scheduleRetry()
		s.logger.Warn("fetch failed, retry scheduled",
			"error", fe,
			"attempt", s.st.RetryCount,
			"depth", s.st.Depth,
		)
		if s.opts.OnRetry != nil {
			s.opts.OnRetry(s.st.RetryCount)
		}
	} else {
		s.logger.Error("fetch failed, retries exhausted", "error", fe)
	}
	s.notify()
}

func (s *Session[T]) exhaust() {
	s.st.Exhausted = true
	s.st.Err = &domain.FetchError{
		Kind: domain.KindLoopGuard,
		Op:   s.name,
		Err:  domain.ErrLoopGuardExhausted,
	}
	s.logger.Warn("loop guard tripped", "depth", s.st.Depth)
	if s.opts.OnError != nil {
		s.opts.OnError(s.st.Err)
	}
	s.notify()
}

func (s *Session[T]) scheduleRetry() {
	s.cancelRetry()
	gen := s.retryGen
	s.retryTimer = time.AfterFunc(s.opts.RetryDelay, func() {
		s.post(message[T]{trigger: triggerRetry, gen: gen})
	})
}

// cancelRetry invalidates any scheduled retry, including one whose timer
// already fired and is queued.
func (s *Session[T]) cancelRetry() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.retryGen++
}

func (s *Session[T]) publish() {
	s.mu.Lock()
	s.view = s.st
	s.mu.Unlock()
}

func (s *Session[T]) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = s.st
	for _, ch := range s.subs {
		select {
		case ch <- s.st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s.st:
			default:
			}
		}
	}
}

func (s *Session[T]) shutdown() {
	s.cancelRetry()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.fetchCancel != nil {
		s.fetchCancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func cloneDeps(deps []any) []any {
	if deps == nil {
		return nil
	}
	out := make([]any, len(deps))
	copy(out, deps)
	return out
}
