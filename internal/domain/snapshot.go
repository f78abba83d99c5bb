package domain

import (
	"fmt"
	"slices"
	"time"
)

// MarketState is the lifecycle phase of a betting market.
type MarketState string

const (
	MarketStateTrading  MarketState = "trading"
	MarketStateProposed MarketState = "proposed"
	MarketStateResolved MarketState = "resolved"
)

// MarketStateFromChain maps the contract's uint8 state enum.
func MarketStateFromChain(v uint8) (MarketState, error) {
	switch v {
	case 0:
		return MarketStateTrading, nil
	case 1:
		return MarketStateProposed, nil
	case 2:
		return MarketStateResolved, nil
	default:
		return "", fmt.Errorf("%w: unknown market state %d", ErrMalformedRead, v)
	}
}

func (s MarketState) rank() int {
	switch s {
	case MarketStateTrading:
		return 0
	case MarketStateProposed:
		return 1
	case MarketStateResolved:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known state.
func (s MarketState) Valid() bool { return s.rank() >= 0 }

// CanAdvanceTo reports whether moving from s to next is a forward
// transition. Staying in the same state is not an advance.
func (s MarketState) CanAdvanceTo(next MarketState) bool {
	return next.Valid() && next.rank() > s.rank()
}

// SnapshotSource records which source produced a base snapshot.
type SnapshotSource string

const (
	SourceIndexer SnapshotSource = "indexer"
	SourceChain   SnapshotSource = "chain"
)

const (
	MinOptions = 2
	MaxOptions = 5
)

// MarketSnapshot is the merged, normalised view of one market. Values are
// treated as immutable once published: updates produce a new snapshot with
// the same Address.
type MarketSnapshot struct {
	Address          string `json:"address"`
	Question         string `json:"question"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	Platform         string `json:"platform"`
	ResolutionSource string `json:"resolution_source"`
	Identifier       string `json:"identifier"`

	Options       []string  `json:"options"`
	Creator       string    `json:"creator"`
	CreatedAt     time.Time `json:"created_at"`
	EndTime       time.Time `json:"end_time"`
	CreatorFeeBps uint32    `json:"creator_fee_bps"`

	State                   MarketState `json:"state"`
	TotalLiquidity          string      `json:"total_liquidity"`
	OptionLiquidity         []string    `json:"option_liquidity"`
	ActiveParticipantsCount int64       `json:"active_participants_count"`
	WinningOption           *int        `json:"winning_option,omitempty"`
	ProposedOption          *int        `json:"proposed_option,omitempty"`

	Decimals uint8          `json:"decimals"`
	Source   SnapshotSource `json:"source"`
}

// Validate checks the structural invariants of a snapshot.
func (m *MarketSnapshot) Validate() error {
	if m.Address == "" {
		return MissingField("address")
	}
	if n := len(m.Options); n < MinOptions || n > MaxOptions {
		return fmt.Errorf("%w: %d options (want %d-%d)", ErrMalformedRead, n, MinOptions, MaxOptions)
	}
	if len(m.OptionLiquidity) != len(m.Options) {
		return fmt.Errorf("%w: %d liquidity entries for %d options",
			ErrMalformedRead, len(m.OptionLiquidity), len(m.Options))
	}
	if !m.State.Valid() {
		return fmt.Errorf("%w: state %q", ErrMalformedRead, m.State)
	}
	if m.WinningOption != nil && m.State != MarketStateResolved {
		return fmt.Errorf("%w: winning option set while %s", ErrMalformedRead, m.State)
	}
	return nil
}

// Clone returns a deep copy.
func (m *MarketSnapshot) Clone() *MarketSnapshot {
	if m == nil {
		return nil
	}
	out := *m
	out.Options = slices.Clone(m.Options)
	out.OptionLiquidity = slices.Clone(m.OptionLiquidity)
	out.WinningOption = cloneIndex(m.WinningOption)
	out.ProposedOption = cloneIndex(m.ProposedOption)
	return &out
}

// Equal reports structural equality.
func (m *MarketSnapshot) Equal(o *MarketSnapshot) bool {
	if m == o {
		return true
	}
	if m == nil || o == nil {
		return false
	}
	return m.Address == o.Address &&
		m.Question == o.Question &&
		m.Description == o.Description &&
		m.Category == o.Category &&
		m.Platform == o.Platform &&
		m.ResolutionSource == o.ResolutionSource &&
		m.Identifier == o.Identifier &&
		slices.Equal(m.Options, o.Options) &&
		m.Creator == o.Creator &&
		m.CreatedAt.Equal(o.CreatedAt) &&
		m.EndTime.Equal(o.EndTime) &&
		m.CreatorFeeBps == o.CreatorFeeBps &&
		m.State == o.State &&
		m.TotalLiquidity == o.TotalLiquidity &&
		slices.Equal(m.OptionLiquidity, o.OptionLiquidity) &&
		m.ActiveParticipantsCount == o.ActiveParticipantsCount &&
		equalIndex(m.WinningOption, o.WinningOption) &&
		equalIndex(m.ProposedOption, o.ProposedOption) &&
		m.Decimals == o.Decimals &&
		m.Source == o.Source
}

// IndexPtr returns a pointer to a copy of i.
func IndexPtr(i int) *int { return &i }

func cloneIndex(p *int) *int {
	if p == nil {
		return nil
	}
	return IndexPtr(*p)
}

func equalIndex(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
