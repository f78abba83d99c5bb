package domain

import "github.com/shopspring/decimal"

// BettingQuote is the projected outcome of a proposed bet.
type BettingQuote struct {
	Option           int             `json:"option"`
	Stake            decimal.Decimal `json:"stake"`
	OddsPercent      decimal.Decimal `json:"odds_percent"`
	ProjectedPayout  decimal.Decimal `json:"projected_payout"`
	CreatorFeeAmount decimal.Decimal `json:"creator_fee_amount"`
	NetProfit        decimal.Decimal `json:"net_profit"`
}

// BalanceCheck is the Balance Guard's classification of a proposed bet.
type BalanceCheck struct {
	Sufficient   bool            `json:"sufficient"`
	BelowMinimum bool            `json:"below_minimum"`
	Shortfall    decimal.Decimal `json:"shortfall"`
}
