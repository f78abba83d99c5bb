package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSnapshot() *MarketSnapshot {
	return &MarketSnapshot{
		Address:         "0x5fbdb2315678afecb367f032d93f642f64180aa3",
		Question:        "Q?",
		Options:         []string{"Yes", "No"},
		State:           MarketStateTrading,
		TotalLiquidity:  "10",
		OptionLiquidity: []string{"6", "4"},
	}
}

func TestMarketState_CanAdvanceTo(t *testing.T) {
	assert.True(t, MarketStateTrading.CanAdvanceTo(MarketStateProposed))
	assert.True(t, MarketStateTrading.CanAdvanceTo(MarketStateResolved))
	assert.True(t, MarketStateProposed.CanAdvanceTo(MarketStateResolved))

	assert.False(t, MarketStateProposed.CanAdvanceTo(MarketStateTrading))
	assert.False(t, MarketStateResolved.CanAdvanceTo(MarketStateProposed))
	assert.False(t, MarketStateTrading.CanAdvanceTo(MarketStateTrading))
	assert.False(t, MarketStateTrading.CanAdvanceTo("closed"))
}

func TestMarketStateFromChain(t *testing.T) {
	s, err := MarketStateFromChain(1)
	require.NoError(t, err)
	assert.Equal(t, MarketStateProposed, s)

	_, err = MarketStateFromChain(7)
	assert.ErrorIs(t, err, ErrMalformedRead)
}

func TestMarketSnapshot_Validate(t *testing.T) {
	require.NoError(t, validSnapshot().Validate())

	tests := []struct {
		name   string
		mutate func(*MarketSnapshot)
	}{
		{"one option", func(m *MarketSnapshot) {
			m.Options = m.Options[:1]
			m.OptionLiquidity = m.OptionLiquidity[:1]
		}},
		{"six options", func(m *MarketSnapshot) {
			m.Options = []string{"a", "b", "c", "d", "e", "f"}
			m.OptionLiquidity = []string{"0", "0", "0", "0", "0", "0"}
		}},
		{"misaligned liquidity", func(m *MarketSnapshot) { m.OptionLiquidity = []string{"10"} }},
		{"unknown state", func(m *MarketSnapshot) { m.State = "paused" }},
		{"winner before resolution", func(m *MarketSnapshot) { m.WinningOption = IndexPtr(0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validSnapshot()
			tt.mutate(m)
			assert.ErrorIs(t, m.Validate(), ErrMalformedRead)
		})
	}

	m := validSnapshot()
	m.Address = ""
	assert.ErrorIs(t, m.Validate(), ErrMissingEssentialField)
}

func TestMarketSnapshot_CloneIsDeep(t *testing.T) {
	m := validSnapshot()
	m.State = MarketStateResolved
	m.WinningOption = IndexPtr(1)

	c := m.Clone()
	require.True(t, m.Equal(c))

	c.OptionLiquidity[0] = "7"
	*c.WinningOption = 0
	assert.Equal(t, "6", m.OptionLiquidity[0])
	assert.Equal(t, 1, *m.WinningOption)
	assert.False(t, m.Equal(c))
}

func TestFetchError(t *testing.T) {
	primary := errors.New("indexer down")
	err := &FetchError{Kind: KindSource, Op: "market", Err: MissingField("state"), Primary: primary}

	assert.ErrorIs(t, err, ErrMissingEssentialField)
	assert.Contains(t, err.Error(), "primary: indexer down")
	assert.Equal(t, KindSource, ClassifyError(err))
	assert.Equal(t, KindValidation, ClassifyError(MissingField("state")))
	assert.Equal(t, KindLoopGuard, ClassifyError(ErrLoopGuardExhausted))
	assert.Equal(t, KindSource, ClassifyError(errors.New("dial tcp: refused")))
	assert.NotEmpty(t, err.Message())
}
