package service_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/marketstate/internal/domain"
	"github.com/alanyoungcy/marketstate/internal/notify"
	"github.com/alanyoungcy/marketstate/internal/service"
)

const (
	market  = "0x5fbdb2315678afecb367f032d93f642f64180aa3"
	bettor  = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func usdc(whole int64) domain.Amount {
	return domain.NewAmount(new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000)), domain.DecimalsUSDC)
}

func usdcPtr(whole int64) *domain.Amount {
	a := usdc(whole)
	return &a
}

func statePtr(s domain.MarketState) *domain.MarketState { return &s }

// yesNoEvents is a Yes/No market with 600 on Yes and 400 on No.
func yesNoEvents() []domain.MarketEvent {
	meta := func(block, log uint64) domain.EventMeta {
		return domain.EventMeta{Market: market, BlockNumber: block, LogIndex: log}
	}
	return []domain.MarketEvent{
		domain.MarketCreated{
			EventMeta:     meta(1, 0),
			Question:      "Will the bridge open before July?",
			Options:       []string{"Yes", "No"},
			Creator:       bettor,
			EndTime:       time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			CreatorFeeBps: 200,
		},
		domain.BetPlaced{EventMeta: meta(2, 0), Bettor: bettor, Option: 0, Amount: usdc(600)},
		domain.BetPlaced{EventMeta: meta(2, 1), Bettor: bettor, Option: 1, Amount: usdc(400)},
	}
}

type fakeIndexer struct {
	mu     sync.Mutex
	events []domain.MarketEvent
	err    error
	calls  atomic.Int64
}

func (f *fakeIndexer) set(events []domain.MarketEvent, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events, f.err = events, err
}

func (f *fakeIndexer) FetchMarketEvents(context.Context, string) ([]domain.MarketEvent, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events, f.err
}

type fakeReader struct {
	mu       sync.Mutex
	batch    domain.ReadBatch
	batchErr error
	liq      domain.LiquidityReads
	liqErr   error
	counts   []int
	liqCalls atomic.Int64
}

func (f *fakeReader) setBatch(rb domain.ReadBatch, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batch, f.batchErr = rb, err
}

func (f *fakeReader) setLiquidity(l domain.LiquidityReads, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liq, f.liqErr = l, err
}

func (f *fakeReader) optionCounts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.counts...)
}

func (f *fakeReader) ReadMarket(context.Context, string) (domain.ReadBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batch, f.batchErr
}

func (f *fakeReader) ReadLiquidity(_ context.Context, _ string, optionCount int) (domain.LiquidityReads, error) {
	f.liqCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = append(f.counts, optionCount)
	return f.liq, f.liqErr
}

type fakeBalances struct {
	balance   domain.Amount
	allowance domain.Amount
	spenders  []string
}

func (f *fakeBalances) ReadCollateral(context.Context) (domain.Collateral, error) {
	return domain.Collateral{Token: "0xcollateral", Decimals: domain.DecimalsUSDC}, nil
}

func (f *fakeBalances) ReadBalance(context.Context, domain.Collateral, string) (domain.Amount, error) {
	return f.balance, nil
}

func (f *fakeBalances) ReadAllowance(_ context.Context, _ domain.Collateral, _, spender string) (domain.Amount, error) {
	f.spenders = append(f.spenders, spender)
	return f.allowance, nil
}

type captureBus struct {
	mu      sync.Mutex
	updates []domain.SnapshotUpdate
	chans   []string
}

func (b *captureBus) Publish(_ context.Context, channel string, payload []byte) error {
	var u domain.SnapshotUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, u)
	b.chans = append(b.chans, channel)
	return nil
}

func (b *captureBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *captureBus) ofType(typ string) []domain.SnapshotUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.SnapshotUpdate
	for _, u := range b.updates {
		if u.Type == typ {
			out = append(out, u)
		}
	}
	return out
}

type memCache struct {
	mu    sync.Mutex
	snaps map[string]domain.MarketSnapshot
}

func (c *memCache) Set(_ context.Context, snap domain.MarketSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snaps == nil {
		c.snaps = make(map[string]domain.MarketSnapshot)
	}
	c.snaps[snap.Address] = snap
	return nil
}

func (c *memCache) Get(_ context.Context, address string) (domain.MarketSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[address]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (c *memCache) Invalidate(_ context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, address)
	return nil
}

type memJournal struct {
	mu            sync.Mutex
	transitions   []domain.Transition
	confirmations []domain.Confirmation
}

func (j *memJournal) RecordTransition(_ context.Context, t domain.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, t)
	return nil
}

func (j *memJournal) RecordConfirmation(_ context.Context, c domain.Confirmation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.confirmations = append(j.confirmations, c)
	return nil
}

func (j *memJournal) ListTransitions(context.Context, string, domain.ListOpts) ([]domain.Transition, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Transition(nil), j.transitions...), nil
}

func (j *memJournal) snapshot() ([]domain.Transition, []domain.Confirmation) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Transition(nil), j.transitions...),
		append([]domain.Confirmation(nil), j.confirmations...)
}

type captureSender struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (s *captureSender) Send(_ context.Context, a notify.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *captureSender) Name() string { return "capture" }

func (s *captureSender) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.alerts))
	for i, a := range s.alerts {
		out[i] = a.Event
	}
	return out
}

type harness struct {
	indexer *fakeIndexer
	reader  *fakeReader
	bus     *captureBus
	cache   *memCache
	journal *memJournal
	sender  *captureSender
	deps    service.TrackerDeps
	cfg     service.TrackerConfig
}

func newHarness() *harness {
	h := &harness{
		indexer: &fakeIndexer{},
		reader:  &fakeReader{},
		bus:     &captureBus{},
		cache:   &memCache{},
		journal: &memJournal{},
		sender:  &captureSender{},
	}
	h.indexer.set(yesNoEvents(), nil)
	h.deps = service.TrackerDeps{
		Indexer:  h.indexer,
		Reader:   h.reader,
		Bus:      h.bus,
		Cache:    h.cache,
		Journal:  h.journal,
		Notifier: notify.NewNotifier([]notify.Sender{h.sender}, nil, discard()),
		Logger:   discard(),
	}
	h.cfg = service.TrackerConfig{
		Decimals:          domain.DecimalsUSDC,
		RetryCount:        -1,
		RetryDelay:        10 * time.Millisecond,
		MaxDepth:          5,
		RefreshInterval:   time.Hour,
		LiquidityInterval: time.Hour,
		VisibilityIdle:    time.Hour,
	}
	return h
}
