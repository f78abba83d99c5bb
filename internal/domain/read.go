package domain

import "time"

// ReadBatch is the decoded result of the fixed on-chain read batch for one
// market. A nil field means that individual call failed or was absent.
type ReadBatch struct {
	Question                *string
	Description             *string
	Category                *string
	Platform                *string
	Identifier              *string
	CreatedAt               *time.Time
	EndTime                 *time.Time
	Creator                 *string
	CreatorFeeBps           *uint32
	State                   *MarketState
	OptionCount             *int
	TotalStaked             *Amount
	ActiveParticipantsCount *int64
	WinningOption           *int

	// Options and OptionLiquidity come from the follow-up per-option reads.
	Options         []string
	OptionLiquidity []*Amount

	Decimals uint8
}

// LiquidityReads is the fast-changing subset of market state that the
// liquidity merger overlays onto an existing snapshot.
type LiquidityReads struct {
	TotalStaked             *Amount
	OptionLiquidity         []*Amount
	ActiveParticipantsCount *int64
	State                   *MarketState
	WinningOption           *int
}

// Collateral describes the market factory's collateral token.
type Collateral struct {
	Token    string
	Decimals uint8
}

// Equal reports whether r and o carry the same reads.
func (r LiquidityReads) Equal(o LiquidityReads) bool {
	if !equalAmountPtr(r.TotalStaked, o.TotalStaked) ||
		len(r.OptionLiquidity) != len(o.OptionLiquidity) ||
		!equalIndex(r.WinningOption, o.WinningOption) {
		return false
	}
	for i := range r.OptionLiquidity {
		if !equalAmountPtr(r.OptionLiquidity[i], o.OptionLiquidity[i]) {
			return false
		}
	}
	switch {
	case r.ActiveParticipantsCount == nil || o.ActiveParticipantsCount == nil:
		if r.ActiveParticipantsCount != o.ActiveParticipantsCount {
			return false
		}
	case *r.ActiveParticipantsCount != *o.ActiveParticipantsCount:
		return false
	}
	switch {
	case r.State == nil || o.State == nil:
		return r.State == o.State
	default:
		return *r.State == *o.State
	}
}

func equalAmountPtr(a, b *Amount) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
