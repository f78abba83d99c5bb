package domain

import "context"

// EventIndexer returns the decoded event history of one market.
type EventIndexer interface {
	FetchMarketEvents(ctx context.Context, market string) ([]MarketEvent, error)
}

// StateReader performs batched read-only calls against the market contracts.
type StateReader interface {
	ReadMarket(ctx context.Context, market string) (ReadBatch, error)
	ReadLiquidity(ctx context.Context, market string, optionCount int) (LiquidityReads, error)
}

// BalanceReader reads collateral token state for a wallet.
type BalanceReader interface {
	ReadCollateral(ctx context.Context) (Collateral, error)
	ReadBalance(ctx context.Context, c Collateral, owner string) (Amount, error)
	ReadAllowance(ctx context.Context, c Collateral, owner, spender string) (Amount, error)
}
