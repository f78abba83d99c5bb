package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketstate/internal/domain"
	"github.com/alanyoungcy/marketstate/internal/service"
)

const otherMarket = "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"

func TestRegistry_TrackIsIdempotentAndCaseInsensitive(t *testing.T) {
	h := newHarness()
	r := service.NewRegistry(context.Background(), h.deps, h.cfg)
	defer r.Close()

	a, err := r.Track(market)
	require.NoError(t, err)
	b, err := r.Track("0x" + strings.ToUpper(market[2:]))
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = r.Track(otherMarket)
	require.NoError(t, err)
	assert.Equal(t, []string{market, otherMarket}, r.Markets())

	got, ok := r.Get(market)
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestRegistry_Errors(t *testing.T) {
	h := newHarness()
	r := service.NewRegistry(context.Background(), h.deps, h.cfg)

	_, err := r.Track("not-an-address")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	assert.ErrorIs(t, r.Refetch(otherMarket), domain.ErrNotFound)
	assert.ErrorIs(t, r.Visible(otherMarket), domain.ErrNotFound)
	assert.False(t, r.Untrack(otherMarket))

	r.Close()
	_, err = r.Track(market)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.Empty(t, r.Markets())
}

func TestRegistry_RefetchAllAndUntrack(t *testing.T) {
	h := newHarness()
	r := service.NewRegistry(context.Background(), h.deps, h.cfg)
	defer r.Close()

	tr, err := r.Track(market)
	require.NoError(t, err)
	require.Eventually(t, totalIs(tr, "1000"), waitFor, tick)
	require.Eventually(t, func() bool { return !tr.View().Loading }, waitFor, tick)
	before := h.indexer.calls.Load()

	require.NoError(t, r.Refetch(""))
	require.Eventually(t, func() bool { return h.indexer.calls.Load() > before }, waitFor, tick)

	assert.True(t, r.Untrack(market))
	_, ok := r.Get(market)
	assert.False(t, ok)
}

func TestQuoteService_Quote(t *testing.T) {
	h := newHarness()
	r := service.NewRegistry(context.Background(), h.deps, h.cfg)
	defer r.Close()
	qs := service.NewQuoteService(r, nil, discard())

	_, err := qs.Quote(market, 0, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tr, err := r.Track(market)
	require.NoError(t, err)
	require.Eventually(t, totalIs(tr, "1000"), waitFor, tick)

	q, err := qs.Quote(market, 0, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "60", q.OddsPercent.String())
	assert.Equal(t, "8", q.CreatorFeeAmount.String())
	assert.Equal(t, "156", q.ProjectedPayout.Round(2).String())

	odds, err := qs.Odds(market)
	require.NoError(t, err)
	require.Len(t, odds, 2)
	assert.Equal(t, "40", odds[1].String())

	_, err = qs.Quote(market, 5, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidOption)

	_, err = qs.CheckBalance(context.Background(), market, bettor, decimal.NewFromInt(1), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQuoteService_CheckBalance(t *testing.T) {
	h := newHarness()
	r := service.NewRegistry(context.Background(), h.deps, h.cfg)
	defer r.Close()
	balances := &fakeBalances{balance: usdc(50), allowance: usdc(20)}
	qs := service.NewQuoteService(r, balances, discard())

	report, err := qs.CheckBalance(context.Background(), market, bettor, decimal.NewFromInt(30), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, report.Sufficient)
	assert.False(t, report.BelowMinimum)
	assert.True(t, report.Shortfall.IsZero())
	assert.True(t, report.NeedsApproval)
	assert.Equal(t, "50", report.Balance.String())
	assert.Equal(t, "0xcollateral", report.Token)
	assert.Equal(t, []string{market}, balances.spenders)

	report, err = qs.CheckBalance(context.Background(), market, bettor, decimal.NewFromInt(80), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, report.Sufficient)
	assert.Equal(t, "30", report.Shortfall.String())
}

func TestTxWatcher_RefetchesOnceAfterConfirmation(t *testing.T) {
	h := newHarness()
	r := service.NewRegistry(context.Background(), h.deps, h.cfg)
	defer r.Close()
	w := service.NewTxWatcher(r, h.journal, 20*time.Millisecond, discard())
	defer w.Close()

	tr, err := r.Track(market)
	require.NoError(t, err)
	require.Eventually(t, totalIs(tr, "1000"), waitFor, tick)
	require.Eventually(t, func() bool { return !tr.View().Loading }, waitFor, tick)
	before := h.indexer.calls.Load()
	ctx := context.Background()

	scheduled, err := w.Observe(ctx, market, domain.TxStatus{Hash: "0xAB", Action: domain.TxPlaceBet, IsConfirming: true})
	require.NoError(t, err)
	assert.False(t, scheduled)

	scheduled, err = w.Observe(ctx, market, domain.TxStatus{Hash: "0xAB", Action: domain.TxPlaceBet, IsConfirmed: true})
	require.NoError(t, err)
	assert.True(t, scheduled)

	scheduled, err = w.Observe(ctx, market, domain.TxStatus{Hash: "0xab", Action: domain.TxPlaceBet, IsConfirmed: true})
	require.NoError(t, err)
	assert.False(t, scheduled, "same hash confirms once")

	require.Eventually(t, func() bool { return h.indexer.calls.Load() == before+1 }, waitFor, tick)
	assert.Zero(t, w.Pending())

	_, confs := h.journal.snapshot()
	require.Len(t, confs, 1)
	assert.Equal(t, "0xab", confs[0].Hash)
	assert.Equal(t, domain.TxPlaceBet, confs[0].Action)
}

func TestTxWatcher_IgnoresErrorsAndCancelsOnClose(t *testing.T) {
	h := newHarness()
	r := service.NewRegistry(context.Background(), h.deps, h.cfg)
	defer r.Close()
	w := service.NewTxWatcher(r, nil, time.Hour, discard())
	ctx := context.Background()

	scheduled, err := w.Observe(ctx, market, domain.TxStatus{Hash: "0x01", IsConfirmed: true, IsError: true})
	require.NoError(t, err)
	assert.False(t, scheduled)

	_, err = w.Observe(ctx, market, domain.TxStatus{})
	assert.ErrorIs(t, err, domain.ErrMissingEssentialField)

	scheduled, err = w.Observe(ctx, market, domain.TxStatus{Hash: "0x02", IsConfirmed: true})
	require.NoError(t, err)
	assert.True(t, scheduled)
	assert.Equal(t, 1, w.Pending())

	w.Close()
	assert.Zero(t, w.Pending())
	_, err = w.Observe(ctx, market, domain.TxStatus{Hash: "0x03", IsConfirmed: true})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestRegistry_ViewTracksOnDemand(t *testing.T) {
	h := newHarness()
	r := service.NewRegistry(context.Background(), h.deps, h.cfg)
	defer r.Close()

	_, err := r.View("0x12")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	v, err := r.View(market)
	require.NoError(t, err)
	assert.Equal(t, market, v.Address)
	assert.Equal(t, []string{market}, r.Markets())

	require.Eventually(t, func() bool {
		v, err := r.View(market)
		return err == nil && v.Snapshot != nil && v.Snapshot.TotalLiquidity == "1000"
	}, waitFor, tick)
}

func TestTxWatcher_ForgetsHashesAfterRetention(t *testing.T) {
	h := newHarness()
	r := service.NewRegistry(context.Background(), h.deps, h.cfg)
	defer r.Close()
	w := service.NewTxWatcher(r, nil, 10*time.Millisecond, discard())
	defer w.Close()
	service.SetTxRetention(w, 30*time.Millisecond)
	ctx := context.Background()

	scheduled, err := w.Observe(ctx, market, domain.TxStatus{Hash: "0xaa", IsConfirmed: true})
	require.NoError(t, err)
	require.True(t, scheduled)
	require.Eventually(t, func() bool { return w.Pending() == 0 }, waitFor, tick)
	assert.Equal(t, 1, service.ConfirmedHashes(w))

	time.Sleep(60 * time.Millisecond)
	_, err = w.Observe(ctx, market, domain.TxStatus{Hash: "0xbb", IsConfirming: true})
	require.NoError(t, err)
	assert.Zero(t, service.ConfirmedHashes(w))
}
