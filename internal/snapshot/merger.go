package snapshot

import (
	"slices"
	"sync"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// Merge overlays fresh liquidity onto base. Only fields present in fresh
// are considered; the state moves forward only and the option vector is
// applied only when it is index-aligned with base's options. When nothing
// would change, base itself is returned, so callers can detect a no-op by
// pointer comparison.
func Merge(base *domain.MarketSnapshot, fresh domain.LiquidityReads) *domain.MarketSnapshot {
	if base == nil {
		return nil
	}

	var next *domain.MarketSnapshot
	edit := func() *domain.MarketSnapshot {
		if next == nil {
			next = base.Clone()
		}
		return next
	}

	if fresh.TotalStaked != nil {
		if v := fresh.TotalStaked.String(); v != base.TotalLiquidity {
			edit().TotalLiquidity = v
		}
	}

	if len(fresh.OptionLiquidity) > 0 && len(fresh.OptionLiquidity) == len(base.Options) {
		vec := slices.Clone(base.OptionLiquidity)
		for i, a := range fresh.OptionLiquidity {
			if a != nil {
				vec[i] = a.String()
			}
		}
		if !slices.Equal(vec, base.OptionLiquidity) {
			edit().OptionLiquidity = vec
		}
	}

	if fresh.ActiveParticipantsCount != nil && *fresh.ActiveParticipantsCount != base.ActiveParticipantsCount {
		edit().ActiveParticipantsCount = *fresh.ActiveParticipantsCount
	}

	state := base.State
	if fresh.State != nil && base.State.CanAdvanceTo(*fresh.State) {
		state = *fresh.State
		edit().State = state
		if state != domain.MarketStateProposed {
			next.ProposedOption = nil
		}
	}
	if state == domain.MarketStateResolved && base.WinningOption == nil &&
		fresh.WinningOption != nil && *fresh.WinningOption >= 0 && *fresh.WinningOption < len(base.Options) {
		edit().WinningOption = domain.IndexPtr(*fresh.WinningOption)
	}

	if next == nil {
		return base
	}
	return next
}

// Overlay holds a market's base snapshot and its latest liquidity reads and
// publishes the merged result. OnChange runs only when the merged snapshot
// actually differs from the last published one; calls are serialised and
// arrive in version order. OnChange may call Current but not SetBase or Apply.
type Overlay struct {
	emitMu   sync.Mutex
	mu       sync.Mutex
	base     *domain.MarketSnapshot
	reads    *domain.LiquidityReads
	current  *domain.MarketSnapshot
	version  uint64
	onChange func(snap *domain.MarketSnapshot, version uint64)
}

// NewOverlay creates an empty overlay. onChange may be nil.
func NewOverlay(onChange func(snap *domain.MarketSnapshot, version uint64)) *Overlay {
	return &Overlay{onChange: onChange}
}

// SetBase installs a new base snapshot and re-applies the last reads.
func (o *Overlay) SetBase(base *domain.MarketSnapshot) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	o.base = base
	snap, version, changed := o.recompute()
	o.mu.Unlock()
	o.emit(snap, version, changed)
}

// Apply records fresh liquidity reads. Reads arriving before any base are
// kept and applied once a base is installed.
func (o *Overlay) Apply(fresh domain.LiquidityReads) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	o.reads = &fresh
	snap, version, changed := o.recompute()
	o.mu.Unlock()
	o.emit(snap, version, changed)
}

// Current returns the last published snapshot and its version.
func (o *Overlay) Current() (*domain.MarketSnapshot, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current, o.version
}

func (o *Overlay) recompute() (*domain.MarketSnapshot, uint64, bool) {
	if o.base == nil {
		return nil, o.version, false
	}
	merged := o.base
	if o.reads != nil {
		merged = Merge(o.base, *o.reads)
	}
	// A lagging base must not pull the published lifecycle backwards.
	if o.current != nil && merged.State.CanAdvanceTo(o.current.State) {
		merged = merged.Clone()
		merged.State = o.current.State
		merged.ProposedOption = indexCopy(o.current.ProposedOption)
		merged.WinningOption = indexCopy(o.current.WinningOption)
	}
	if merged == o.current || merged.Equal(o.current) {
		return o.current, o.version, false
	}
	o.current = merged
	o.version++
	return merged, o.version, true
}

func indexCopy(p *int) *int {
	if p == nil {
		return nil
	}
	return domain.IndexPtr(*p)
}

func (o *Overlay) emit(snap *domain.MarketSnapshot, version uint64, changed bool) {
	if changed && o.onChange != nil {
		o.onChange(snap, version)
	}
}
