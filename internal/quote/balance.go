package quote

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// Classify decides whether balance can fund a bet of required while staying
// at or above minimum. Shortfall is how much more collateral is needed to
// clear both, never negative.
func Classify(balance, required, minimum decimal.Decimal) domain.BalanceCheck {
	threshold := decimal.Max(required, minimum)
	shortfall := threshold.Sub(balance)
	if shortfall.IsNegative() {
		shortfall = decimal.Zero
	}
	return domain.BalanceCheck{
		Sufficient:   balance.GreaterThanOrEqual(required) && balance.GreaterThanOrEqual(minimum),
		BelowMinimum: balance.LessThan(minimum),
		Shortfall:    shortfall,
	}
}

// NeedsApproval reports whether the market's spending allowance must be
// raised before a bet of required can be placed.
func NeedsApproval(allowance, required decimal.Decimal) bool {
	return allowance.LessThan(required)
}
