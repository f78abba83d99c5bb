package domain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount_PrecisionTag(t *testing.T) {
	raw := big.NewInt(1_500_000)

	assert.Equal(t, "1.5", NewAmount(raw, DecimalsUSDC).String())
	assert.Equal(t, "0.0000000000015", NewAmount(raw, DecimalsEther).String())
}

func TestNewAmount_CopiesRaw(t *testing.T) {
	raw := big.NewInt(10)
	a := NewAmount(raw, DecimalsUSDC)
	raw.SetInt64(99)

	assert.Equal(t, int64(10), a.Raw.Int64())
	assert.Equal(t, 0, NewAmount(nil, DecimalsUSDC).Sign())
}

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("250000000", DecimalsUSDC)
	require.NoError(t, err)
	assert.Equal(t, "250", a.String())

	_, err = ParseAmount("2.5", DecimalsUSDC)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestToBaseUnits(t *testing.T) {
	assert.Equal(t, "12345678", ToBaseUnits(decimal.RequireFromString("12.3456789"), DecimalsUSDC).String())
	assert.Equal(t, "1000000000000000000", ToBaseUnits(decimal.NewFromInt(1), DecimalsEther).String())
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = ParseDecimal("ten")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAmount_Equal(t *testing.T) {
	a := NewAmount(big.NewInt(5), DecimalsUSDC)
	assert.True(t, a.Equal(NewAmount(big.NewInt(5), DecimalsUSDC)))
	assert.False(t, a.Equal(NewAmount(big.NewInt(5), DecimalsEther)))
	assert.False(t, a.Equal(NewAmount(big.NewInt(6), DecimalsUSDC)))
	assert.True(t, Amount{Decimals: 6}.Equal(NewAmount(nil, 6)))
}

func TestLiquidityReads_Equal(t *testing.T) {
	mk := func(total int64) LiquidityReads {
		tot := NewAmount(big.NewInt(total), DecimalsUSDC)
		opt := NewAmount(big.NewInt(total/2), DecimalsUSDC)
		n := int64(3)
		st := MarketStateTrading
		return LiquidityReads{
			TotalStaked:             &tot,
			OptionLiquidity:         []*Amount{&opt, nil},
			ActiveParticipantsCount: &n,
			State:                   &st,
		}
	}
	assert.True(t, mk(10).Equal(mk(10)))
	assert.False(t, mk(10).Equal(mk(12)))

	other := mk(10)
	other.State = nil
	assert.False(t, mk(10).Equal(other))
	assert.True(t, LiquidityReads{}.Equal(LiquidityReads{}))
}
