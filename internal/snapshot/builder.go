// Package snapshot turns indexer events or on-chain reads into a
// domain.MarketSnapshot and overlays fresh liquidity onto an existing one.
package snapshot

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// FromEvents folds a market's indexer records into a snapshot. Records are
// applied in chain order (block number, then log index); records sharing a
// position keep their arrival order. The result carries amounts at the
// given precision tag.
//
// A market with no creation record yields domain.ErrNotFound so callers can
// fall back to chain reads.
func FromEvents(address string, events []domain.MarketEvent, decimals uint8) (*domain.MarketSnapshot, error) {
	if address == "" {
		return nil, domain.MissingField("address")
	}

	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, b domain.MarketEvent) int {
		ma, mb := a.Meta(), b.Meta()
		if c := cmp.Compare(ma.BlockNumber, mb.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(ma.LogIndex, mb.LogIndex)
	})

	var created *domain.MarketCreated
	for _, ev := range ordered {
		meta := ev.Meta()
		if meta.Market == "" {
			return nil, fmt.Errorf("%w: %s record without market key (tx %s)",
				domain.ErrMalformedEvent, ev.Kind(), meta.TxHash)
		}
		if !strings.EqualFold(meta.Market, address) {
			return nil, fmt.Errorf("%w: %s record for market %s in batch for %s",
				domain.ErrMalformedEvent, ev.Kind(), meta.Market, address)
		}
		if c, ok := ev.(domain.MarketCreated); ok {
			if created != nil {
				return nil, fmt.Errorf("%w: duplicate creation record", domain.ErrMalformedEvent)
			}
			created = &c
		}
	}
	if created == nil {
		return nil, fmt.Errorf("snapshot: market %s: %w", address, domain.ErrNotFound)
	}

	snap, err := seed(address, created, decimals)
	if err != nil {
		return nil, err
	}

	f := folder{
		snap:  snap,
		pools: make([]decimal.Decimal, len(snap.Options)),
	}
	for _, ev := range ordered {
		if err := f.apply(ev); err != nil {
			return nil, err
		}
	}
	f.finish()

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func seed(address string, c *domain.MarketCreated, decimals uint8) (*domain.MarketSnapshot, error) {
	switch {
	case c.Question == "":
		return nil, domain.MissingField("question")
	case c.EndTime.IsZero():
		return nil, domain.MissingField("endTime")
	case c.Creator == "":
		return nil, domain.MissingField("creator")
	}
	if n := len(c.Options); n < domain.MinOptions || n > domain.MaxOptions {
		return nil, fmt.Errorf("%w: creation record has %d options", domain.ErrMalformedEvent, n)
	}

	return &domain.MarketSnapshot{
		Address:          address,
		Question:         c.Question,
		Description:      c.Description,
		Category:         c.Category,
		Platform:         c.Platform,
		ResolutionSource: c.ResolutionSource,
		Identifier:       c.Identifier,
		Options:          slices.Clone(c.Options),
		Creator:          c.Creator,
		CreatedAt:        c.Timestamp,
		EndTime:          c.EndTime,
		CreatorFeeBps:    c.CreatorFeeBps,
		State:            domain.MarketStateTrading,
		Decimals:         decimals,
		Source:           domain.SourceIndexer,
	}, nil
}

type folder struct {
	snap  *domain.MarketSnapshot
	total decimal.Decimal
	pools []decimal.Decimal
}

func (f *folder) option(kind domain.EventKind, i int) error {
	if i < 0 || i >= len(f.pools) {
		return fmt.Errorf("%w: %s option %d out of range [0,%d)",
			domain.ErrMalformedEvent, kind, i, len(f.pools))
	}
	return nil
}

func (f *folder) apply(ev domain.MarketEvent) error {
	switch e := ev.(type) {
	case domain.MarketCreated:
		return nil

	case domain.BetPlaced:
		if err := f.option(e.Kind(), e.Option); err != nil {
			return err
		}
		if e.Amount.Sign() < 0 {
			return fmt.Errorf("%w: negative bet amount", domain.ErrMalformedEvent)
		}
		amt := e.Amount.Decimal()
		f.pools[e.Option] = f.pools[e.Option].Add(amt)
		f.total = f.total.Add(amt)

	case domain.BetExited:
		if err := f.option(e.Kind(), e.Option); err != nil {
			return err
		}
		if e.Amount.Sign() < 0 {
			return fmt.Errorf("%w: negative exit amount", domain.ErrMalformedEvent)
		}
		amt := e.Amount.Decimal()
		pool := f.pools[e.Option].Sub(amt)
		if pool.IsNegative() {
			return fmt.Errorf("%w: exit of %s drives option %d pool negative (tx %s)",
				domain.ErrMalformedEvent, amt, e.Option, e.TxHash)
		}
		f.pools[e.Option] = pool
		f.total = f.total.Sub(amt)

	case domain.ResolutionProposed:
		if err := f.option(e.Kind(), e.Option); err != nil {
			return err
		}
		switch {
		case f.snap.State.CanAdvanceTo(domain.MarketStateProposed):
			f.snap.State = domain.MarketStateProposed
			f.snap.ProposedOption = domain.IndexPtr(e.Option)
		case f.snap.State == domain.MarketStateProposed:
			// An override replaces the pending outcome.
			f.snap.ProposedOption = domain.IndexPtr(e.Option)
		}

	case domain.ResolutionFinalized:
		if err := f.option(e.Kind(), e.Option); err != nil {
			return err
		}
		if f.snap.State.CanAdvanceTo(domain.MarketStateResolved) {
			f.snap.State = domain.MarketStateResolved
			f.snap.WinningOption = domain.IndexPtr(e.Option)
			f.snap.ProposedOption = nil
		}

	case domain.ParticipantCountChanged:
		if e.Count < 0 {
			return fmt.Errorf("%w: participant count %d", domain.ErrMalformedEvent, e.Count)
		}
		f.snap.ActiveParticipantsCount = e.Count

	default:
		return fmt.Errorf("%w: unknown record kind %q", domain.ErrMalformedEvent, ev.Kind())
	}
	return nil
}

func (f *folder) finish() {
	f.snap.TotalLiquidity = f.total.String()
	f.snap.OptionLiquidity = make([]string, len(f.pools))
	for i, p := range f.pools {
		f.snap.OptionLiquidity[i] = p.String()
	}
}

// FromReads maps a decoded on-chain read batch into a snapshot. Question,
// end time, creator, state and the option labels are essential; when any
// is missing no snapshot is built.
func FromReads(address string, rb domain.ReadBatch) (*domain.MarketSnapshot, error) {
	switch {
	case address == "":
		return nil, domain.MissingField("address")
	case rb.Question == nil:
		return nil, domain.MissingField("question")
	case rb.EndTime == nil:
		return nil, domain.MissingField("endTime")
	case rb.Creator == nil:
		return nil, domain.MissingField("creator")
	case rb.State == nil:
		return nil, domain.MissingField("state")
	case len(rb.Options) == 0:
		return nil, domain.MissingField("options")
	}
	if rb.OptionCount != nil && *rb.OptionCount != len(rb.Options) {
		return nil, fmt.Errorf("%w: optionCount %d but %d labels",
			domain.ErrMalformedRead, *rb.OptionCount, len(rb.Options))
	}

	snap := &domain.MarketSnapshot{
		Address:     address,
		Question:    *rb.Question,
		Description: deref(rb.Description),
		Category:    deref(rb.Category),
		Platform:    deref(rb.Platform),
		Identifier:  deref(rb.Identifier),
		Options:     slices.Clone(rb.Options),
		Creator:     *rb.Creator,
		EndTime:     *rb.EndTime,
		State:       *rb.State,
		Decimals:    rb.Decimals,
		Source:      domain.SourceChain,
	}
	if rb.CreatedAt != nil {
		snap.CreatedAt = *rb.CreatedAt
	}
	if rb.CreatorFeeBps != nil {
		snap.CreatorFeeBps = *rb.CreatorFeeBps
	}
	if rb.ActiveParticipantsCount != nil {
		snap.ActiveParticipantsCount = *rb.ActiveParticipantsCount
	}
	if rb.WinningOption != nil && snap.State == domain.MarketStateResolved {
		snap.WinningOption = domain.IndexPtr(*rb.WinningOption)
	}

	sum := decimal.Zero
	snap.OptionLiquidity = make([]string, len(snap.Options))
	for i := range snap.Options {
		v := decimal.Zero
		if i < len(rb.OptionLiquidity) && rb.OptionLiquidity[i] != nil {
			v = rb.OptionLiquidity[i].Decimal()
		}
		sum = sum.Add(v)
		snap.OptionLiquidity[i] = v.String()
	}
	if rb.TotalStaked != nil {
		snap.TotalLiquidity = rb.TotalStaked.String()
	} else {
		snap.TotalLiquidity = sum.String()
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
