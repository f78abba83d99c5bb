package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketstate/internal/domain"
	"github.com/alanyoungcy/marketstate/internal/quote"
)

// BalanceReport is the Balance Guard outcome plus the figures it was
// computed from.
type BalanceReport struct {
	domain.BalanceCheck
	Token         string          `json:"token"`
	Balance       decimal.Decimal `json:"balance"`
	Allowance     decimal.Decimal `json:"allowance"`
	NeedsApproval bool            `json:"needs_approval"`
}

// QuoteService prices bets against tracked markets and checks whether a
// wallet can fund them.
type QuoteService struct {
	registry *Registry
	balances domain.BalanceReader
	logger   *slog.Logger
}

// NewQuoteService creates a QuoteService. balances may be nil, in which
// case CheckBalance is unavailable.
func NewQuoteService(registry *Registry, balances domain.BalanceReader, logger *slog.Logger) *QuoteService {
	return &QuoteService{
		registry: registry,
		balances: balances,
		logger:   logger.With(slog.String("component", "quote_service")),
	}
}

// Quote prices a stake on option against the market's current merged
// snapshot.
func (s *QuoteService) Quote(address string, option int, stake decimal.Decimal) (domain.BettingQuote, error) {
	snap, err := s.current(address)
	if err != nil {
		return domain.BettingQuote{}, err
	}
	q, err := quote.Calculate(snap, option, stake)
	if err != nil {
		return domain.BettingQuote{}, fmt.Errorf("quote_service: %s: %w", address, err)
	}
	return q, nil
}

// Odds returns the current odds of every option of a market.
func (s *QuoteService) Odds(address string) ([]decimal.Decimal, error) {
	snap, err := s.current(address)
	if err != nil {
		return nil, err
	}
	return quote.AllOdds(snap)
}

// CheckBalance reads owner's collateral balance and the allowance granted
// to the market, then classifies a bet of required against minimum.
func (s *QuoteService) CheckBalance(ctx context.Context, market, owner string, required, minimum decimal.Decimal) (BalanceReport, error) {
	if s.balances == nil {
		return BalanceReport{}, fmt.Errorf("quote_service: balance reader: %w", domain.ErrNotFound)
	}

	c, err := s.balances.ReadCollateral(ctx)
	if err != nil {
		return BalanceReport{}, fmt.Errorf("quote_service: read collateral: %w", err)
	}
	bal, err := s.balances.ReadBalance(ctx, c, owner)
	if err != nil {
		return BalanceReport{}, fmt.Errorf("quote_service: read balance %s: %w", owner, err)
	}
	allowance, err := s.balances.ReadAllowance(ctx, c, owner, market)
	if err != nil {
		return BalanceReport{}, fmt.Errorf("quote_service: read allowance %s: %w", owner, err)
	}

	report := BalanceReport{
		BalanceCheck:  quote.Classify(bal.Decimal(), required, minimum),
		Token:         c.Token,
		Balance:       bal.Decimal(),
		Allowance:     allowance.Decimal(),
		NeedsApproval: quote.NeedsApproval(allowance.Decimal(), required),
	}
	s.logger.DebugContext(ctx, "balance checked",
		slog.String("market", market),
		slog.String("owner", owner),
		slog.Bool("sufficient", report.Sufficient),
		slog.Bool("needs_approval", report.NeedsApproval),
	)
	return report, nil
}

func (s *QuoteService) current(address string) (*domain.MarketSnapshot, error) {
	t, ok := s.registry.Get(address)
	if !ok {
		return nil, fmt.Errorf("quote_service: market %s: %w", address, domain.ErrNotFound)
	}
	snap := t.Current()
	if snap == nil {
		return nil, fmt.Errorf("quote_service: market %s has no snapshot yet: %w", address, domain.ErrNotFound)
	}
	return snap, nil
}
