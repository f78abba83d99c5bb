package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Common collateral precisions.
const (
	DecimalsUSDC  uint8 = 6
	DecimalsEther uint8 = 18
)

// Amount is an integer base-unit quantity tagged with the precision of the
// token it was denominated in. The tag travels with the value from the
// point of origin so a raw integer is never reinterpreted at another scale.
type Amount struct {
	Raw      *big.Int
	Decimals uint8
}

// NewAmount tags raw with decimals. A nil raw is treated as zero.
func NewAmount(raw *big.Int, decimals uint8) Amount {
	if raw == nil {
		raw = new(big.Int)
	}
	return Amount{Raw: new(big.Int).Set(raw), Decimals: decimals}
}

// ParseAmount parses a base-10 integer string (as delivered by the indexer).
func ParseAmount(s string, decimals uint8) (Amount, error) {
	raw, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, s)
	}
	return Amount{Raw: raw, Decimals: decimals}, nil
}

// Decimal converts the amount to a decimal in whole-token units.
func (a Amount) Decimal() decimal.Decimal {
	if a.Raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.Raw, -int32(a.Decimals))
}

// String renders the whole-token decimal string without trailing zeros.
func (a Amount) String() string {
	return a.Decimal().String()
}

// Sign reports the sign of the raw value.
func (a Amount) Sign() int {
	if a.Raw == nil {
		return 0
	}
	return a.Raw.Sign()
}

// ToBaseUnits converts a whole-token decimal into base units at the given
// precision, truncating anything finer than one base unit.
func ToBaseUnits(d decimal.Decimal, decimals uint8) *big.Int {
	return d.Shift(int32(decimals)).Truncate(0).BigInt()
}

// ParseDecimal parses a decimal string, treating the empty string as zero.
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// Equal reports whether a and o have the same value and precision. Nil raw
// values compare as zero.
func (a Amount) Equal(o Amount) bool {
	if a.Decimals != o.Decimals {
		return false
	}
	return a.Sign() == 0 && o.Sign() == 0 ||
		a.Raw != nil && o.Raw != nil && a.Raw.Cmp(o.Raw) == 0
}
