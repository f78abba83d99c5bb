package fetch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketstate/internal/domain"
	"github.com/alanyoungcy/marketstate/internal/fetch"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errBoom = errors.New("boom")

type counter struct {
	calls atomic.Int64
}

func (c *counter) value(v int) fetch.Producer[int] {
	return func(context.Context) (int, error) {
		c.calls.Add(1)
		return v, nil
	}
}

func (c *counter) sequence() fetch.Producer[int] {
	return func(context.Context) (int, error) {
		return int(c.calls.Add(1)), nil
	}
}

func (c *counter) failing() fetch.Producer[int] {
	return func(context.Context) (int, error) {
		c.calls.Add(1)
		return 0, errBoom
	}
}

func settled(s *fetch.Session[int], c *counter, calls int64) func() bool {
	return func() bool {
		return c.calls.Load() == calls && !s.State().Loading
	}
}

func TestSession_CommitsPrimary(t *testing.T) {
	var c counter
	s := fetch.Observe(context.Background(), c.value(7), nil, fetch.Options[int]{})
	defer s.Close()

	require.Eventually(t, func() bool { return s.State().HasData }, waitFor, tick)
	st := s.State()
	assert.Equal(t, 7, st.Data)
	assert.Equal(t, fetch.SourcePrimary, st.Source)
	assert.Equal(t, uint64(1), st.Version)
	assert.NoError(t, st.Err)
	assert.False(t, st.LastFetched.IsZero())
}

func TestSession_FallsBackWhenPrimaryFails(t *testing.T) {
	var primary, fallback counter
	s := fetch.Observe(context.Background(), primary.failing(), fallback.value(9), fetch.Options[int]{})
	defer s.Close()

	require.Eventually(t, func() bool { return s.State().HasData }, waitFor, tick)
	st := s.State()
	assert.Equal(t, 9, st.Data)
	assert.Equal(t, fetch.SourceFallback, st.Source)
	assert.Equal(t, int64(1), primary.calls.Load())
}

func TestSession_RetryBound(t *testing.T) {
	var c counter
	var (
		mu      sync.Mutex
		retries []int
	)
	s := fetch.Observe(context.Background(), c.failing(), nil, fetch.Options[int]{
		RetryCount: 2,
		RetryDelay: 10 * time.Millisecond,
		MaxDepth:   10,
		OnRetry: func(n int) {
			mu.Lock()
			retries = append(retries, n)
			mu.Unlock()
		},
	})
	defer s.Close()

	require.Eventually(t, settled(s, &c, 3), waitFor, tick)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int64(3), c.calls.Load())

	st := s.State()
	assert.Equal(t, 2, st.RetryCount)
	assert.False(t, st.Exhausted)
	var fe *domain.FetchError
	require.ErrorAs(t, st.Err, &fe)
	assert.Equal(t, domain.KindSource, fe.Kind)
	assert.ErrorIs(t, st.Err, errBoom)
	mu.Lock()
	assert.Equal(t, []int{1, 2}, retries)
	mu.Unlock()
}

func TestSession_RetriesTripLoopGuard(t *testing.T) {
	var c counter
	var retries atomic.Int64
	s := fetch.Observe(context.Background(), c.failing(), nil, fetch.Options[int]{
		RetryCount: 10,
		RetryDelay: 5 * time.Millisecond,
		MaxDepth:   3,
		OnRetry:    func(int) { retries.Add(1) },
	})
	defer s.Close()

	require.Eventually(t, func() bool { return s.State().Exhausted }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(3), c.calls.Load())
	assert.Equal(t, int64(2), retries.Load(), "no retry is announced past the depth ceiling")
	assert.Equal(t, 2, s.State().RetryCount)
	var fe *domain.FetchError
	require.ErrorAs(t, s.State().Err, &fe)
	assert.Equal(t, domain.KindLoopGuard, fe.Kind)
	assert.ErrorIs(t, fe, domain.ErrLoopGuardExhausted)

	s.Refetch()
	require.Eventually(t, func() bool { return c.calls.Load() >= 4 }, waitFor, tick)
}

func TestSession_RefetchInvalidatesScheduledRetry(t *testing.T) {
	var calls atomic.Int64
	failOnce := func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errBoom
		}
		return 5, nil
	}
	const delay = 150 * time.Millisecond
	s := fetch.Observe(context.Background(), failOnce, nil, fetch.Options[int]{
		RetryCount: 3,
		RetryDelay: delay,
	})
	defer s.Close()

	require.Eventually(t, func() bool { return s.State().RetryCount == 1 }, waitFor, tick)
	s.Refetch()
	require.Eventually(t, func() bool { return s.State().HasData }, waitFor, tick)

	time.Sleep(2 * delay)
	assert.Equal(t, int64(2), calls.Load(), "retry scheduled before Refetch must not fire")
	st := s.State()
	assert.Equal(t, 5, st.Data)
	assert.Zero(t, st.RetryCount)
	assert.NoError(t, st.Err)
}

func TestSession_UnchangedPayloadDoesNotNotify(t *testing.T) {
	var c counter
	var successes atomic.Int64
	s := fetch.Observe(context.Background(), c.value(1), nil, fetch.Options[int]{
		OnSuccess: func(int) { successes.Add(1) },
	})
	defer s.Close()

	require.Eventually(t, settled(s, &c, 1), waitFor, tick)
	s.Refetch()
	require.Eventually(t, settled(s, &c, 2), waitFor, tick)
	s.Refetch()
	require.Eventually(t, settled(s, &c, 3), waitFor, tick)

	assert.Equal(t, int64(1), successes.Load())
	assert.Equal(t, uint64(1), s.State().Version)
}

func TestSession_CloseCancelsPendingRetry(t *testing.T) {
	var c counter
	s := fetch.Observe(context.Background(), c.failing(), nil, fetch.Options[int]{
		RetryDelay: 50 * time.Millisecond,
	})

	require.Eventually(t, func() bool { return s.State().Err != nil }, waitFor, tick)
	s.Close()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(1), c.calls.Load())

	select {
	case <-s.Done():
	default:
		t.Fatal("session not done after Close")
	}
}

func TestSession_DependencyChangesCoalesceWhileInFlight(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	producer := func(ctx context.Context) (int, error) {
		n := calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return int(n), nil
	}

	s := fetch.Observe(context.Background(), producer, nil, fetch.Options[int]{
		Dependencies: []any{0},
	})
	defer s.Close()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	s.SetDependencies(1)
	s.SetDependencies(2)
	s.SetDependencies(3)
	release <- struct{}{}

	require.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, tick)
	release <- struct{}{}
	require.Eventually(t, func() bool { return s.State().Data == 2 }, waitFor, tick)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(2), calls.Load())
}

func TestSession_DependencyChurnTripsLoopGuard(t *testing.T) {
	var c counter
	s := fetch.Observe(context.Background(), c.value(1), nil, fetch.Options[int]{
		Dependencies: []any{0},
		MaxDepth:     5,
	})
	defer s.Close()

	require.Eventually(t, settled(s, &c, 1), waitFor, tick)
	for i := 1; i <= 5; i++ {
		s.SetDependencies(i)
		require.Eventually(t, settled(s, &c, int64(i+1)), waitFor, tick)
		assert.Equal(t, i, s.State().Depth)
	}

	s.SetDependencies(6)
	require.Eventually(t, func() bool { return s.State().Exhausted }, waitFor, tick)
	assert.Equal(t, int64(6), c.calls.Load())

	s.Refetch()
	require.Eventually(t, settled(s, &c, 7), waitFor, tick)
	assert.False(t, s.State().Exhausted)
	assert.Equal(t, 0, s.State().Depth)
}

func TestSession_EqualDependenciesIgnored(t *testing.T) {
	var c counter
	s := fetch.Observe(context.Background(), c.value(1), nil, fetch.Options[int]{
		Dependencies: []any{"0xabc", 1},
	})
	defer s.Close()

	require.Eventually(t, settled(s, &c, 1), waitFor, tick)
	s.SetDependencies("0xabc", 1)
	s.Refetch()
	require.Eventually(t, settled(s, &c, 2), waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(2), c.calls.Load())
}

func TestSession_Disabled(t *testing.T) {
	var c counter
	s := fetch.Observe(context.Background(), c.value(1), nil, fetch.Options[int]{
		Enabled: fetch.Bool(false),
	})
	defer s.Close()

	s.Refetch()
	s.SetDependencies(1)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(0), c.calls.Load())

	s.SetEnabled(true)
	require.Eventually(t, settled(s, &c, 1), waitFor, tick)
	assert.True(t, s.State().HasData)
}

func TestSession_AutoRefresh(t *testing.T) {
	var c counter
	s := fetch.Observe(context.Background(), c.sequence(), nil, fetch.Options[int]{
		AutoRefresh:     true,
		RefreshInterval: 15 * time.Millisecond,
	})
	defer s.Close()

	require.Eventually(t, func() bool { return c.calls.Load() >= 3 }, waitFor, tick)
	assert.GreaterOrEqual(t, s.State().Version, uint64(2))
}

func TestSession_VisibilityRefresh(t *testing.T) {
	t.Run("idle long enough", func(t *testing.T) {
		var c counter
		s := fetch.Observe(context.Background(), c.sequence(), nil, fetch.Options[int]{
			AutoRefresh:     true,
			RefreshInterval: time.Hour,
			VisibilityIdle:  time.Nanosecond,
		})
		defer s.Close()

		require.Eventually(t, settled(s, &c, 1), waitFor, tick)
		s.Visible()
		require.Eventually(t, settled(s, &c, 2), waitFor, tick)
	})

	t.Run("recently fetched", func(t *testing.T) {
		var c counter
		s := fetch.Observe(context.Background(), c.sequence(), nil, fetch.Options[int]{
			AutoRefresh:     true,
			RefreshInterval: time.Hour,
			VisibilityIdle:  time.Hour,
		})
		defer s.Close()

		require.Eventually(t, settled(s, &c, 1), waitFor, tick)
		s.Visible()
		s.Refetch()
		require.Eventually(t, settled(s, &c, 2), waitFor, tick)
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int64(2), c.calls.Load())
	})
}

func TestSession_KeepsDataOnFailedRefresh(t *testing.T) {
	var fail atomic.Bool
	producer := func(context.Context) (int, error) {
		if fail.Load() {
			return 0, errBoom
		}
		return 42, nil
	}
	s := fetch.Observe(context.Background(), producer, nil, fetch.Options[int]{
		RetryCount: -1,
	})
	defer s.Close()

	require.Eventually(t, func() bool { return s.State().HasData }, waitFor, tick)
	fail.Store(true)
	s.Refetch()

	require.Eventually(t, func() bool { return s.State().Err != nil }, waitFor, tick)
	st := s.State()
	assert.Equal(t, 42, st.Data)
	assert.True(t, st.Stale())
}

func TestSession_RecoversProducerPanic(t *testing.T) {
	var panicking atomic.Bool
	panicking.Store(true)
	producer := func(context.Context) (int, error) {
		if panicking.Load() {
			panic("bad decode")
		}
		return 5, nil
	}
	s := fetch.Observe(context.Background(), producer, nil, fetch.Options[int]{
		RetryCount: -1,
	})
	defer s.Close()

	require.Eventually(t, func() bool { return s.State().Err != nil }, waitFor, tick)
	assert.Equal(t, domain.KindSource, domain.ClassifyError(s.State().Err))

	panicking.Store(false)
	s.Refetch()
	require.Eventually(t, func() bool { return s.State().HasData }, waitFor, tick)
	assert.NoError(t, s.State().Err)
}

func TestSession_SubscribeReceivesCommitsAndClosesOnClose(t *testing.T) {
	var c counter
	s := fetch.Observe(context.Background(), c.value(3), nil, fetch.Options[int]{
		Enabled: fetch.Bool(false),
	})

	updates, cancel := s.Subscribe()
	defer cancel()
	s.SetEnabled(true)

	select {
	case st := <-updates:
		assert.Equal(t, 3, st.Data)
	case <-time.After(waitFor):
		t.Fatal("no update received")
	}

	s.Close()
	_, ok := <-updates
	assert.False(t, ok)
}
