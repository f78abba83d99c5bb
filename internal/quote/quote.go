// Package quote prices proposed bets against a market snapshot and checks
// whether a wallet can fund them. Everything here is pure.
package quote

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

var (
	hundred    = decimal.NewFromInt(100)
	bpsDivisor = decimal.NewFromInt(10_000)
	oddsPlaces = int32(2)
)

// Odds returns an option's share of total liquidity as a percentage rounded
// to two places. A market without liquidity has zero odds everywhere.
func Odds(optionLiquidity, totalLiquidity decimal.Decimal) decimal.Decimal {
	if totalLiquidity.IsZero() {
		return decimal.Zero
	}
	return optionLiquidity.Div(totalLiquidity).Mul(hundred).Round(oddsPlaces)
}

// AllOdds returns Odds for every option of snap, index-aligned.
func AllOdds(snap *domain.MarketSnapshot) ([]decimal.Decimal, error) {
	total, err := domain.ParseDecimal(snap.TotalLiquidity)
	if err != nil {
		return nil, fmt.Errorf("quote: total liquidity: %w", err)
	}
	out := make([]decimal.Decimal, len(snap.OptionLiquidity))
	for i, s := range snap.OptionLiquidity {
		opt, err := domain.ParseDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("quote: option %d liquidity: %w", i, err)
		}
		out[i] = Odds(opt, total)
	}
	return out, nil
}

// Calculate projects the payout of staking stake on option. The stake joins
// both the option pool and the total before the payout is computed, and the
// creator fee is charged on the losing pool:
//
//	losing  = (total + stake) - (option + stake)
//	fee     = losing * feeBps / 10000
//	payout  = stake * (total + stake - fee) / (option + stake)
//
// An option nobody has backed yet pays out 1:1 with no fee.
func Calculate(snap *domain.MarketSnapshot, option int, stake decimal.Decimal) (domain.BettingQuote, error) {
	if snap == nil {
		return domain.BettingQuote{}, fmt.Errorf("quote: %w", domain.ErrNotFound)
	}
	if option < 0 || option >= len(snap.Options) || option >= len(snap.OptionLiquidity) {
		return domain.BettingQuote{}, fmt.Errorf("quote: %w: %d of %d",
			domain.ErrInvalidOption, option, len(snap.Options))
	}
	if !stake.IsPositive() {
		return domain.BettingQuote{}, fmt.Errorf("quote: %w: stake %s", domain.ErrInvalidAmount, stake)
	}

	total, err := domain.ParseDecimal(snap.TotalLiquidity)
	if err != nil {
		return domain.BettingQuote{}, fmt.Errorf("quote: total liquidity: %w", err)
	}
	pool, err := domain.ParseDecimal(snap.OptionLiquidity[option])
	if err != nil {
		return domain.BettingQuote{}, fmt.Errorf("quote: option liquidity: %w", err)
	}

	q := domain.BettingQuote{
		Option:      option,
		Stake:       stake,
		OddsPercent: Odds(pool, total),
	}

	if pool.IsZero() {
		q.ProjectedPayout = stake
		q.CreatorFeeAmount = decimal.Zero
		q.NetProfit = decimal.Zero
		return q, nil
	}

	newTotal := total.Add(stake)
	newPool := pool.Add(stake)
	losing := newTotal.Sub(newPool)
	fee := losing.Mul(decimal.NewFromInt(int64(snap.CreatorFeeBps))).Div(bpsDivisor)
	payout := stake.Mul(newTotal.Sub(fee)).Div(newPool)

	q.CreatorFeeAmount = fee
	q.ProjectedPayout = payout
	q.NetProfit = payout.Sub(stake)
	return q, nil
}
