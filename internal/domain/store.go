package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Transition is one observed lifecycle change of a market.
type Transition struct {
	ID            string         `json:"id"`
	Market        string         `json:"market"`
	From          MarketState    `json:"from"`
	To            MarketState    `json:"to"`
	WinningOption *int           `json:"winning_option,omitempty"`
	Source        SnapshotSource `json:"source"`
	ObservedAt    time.Time      `json:"observed_at"`
}

// Confirmation is one confirmed transaction signal.
type Confirmation struct {
	ID         string    `json:"id"`
	Market     string    `json:"market"`
	Hash       string    `json:"hash"`
	Action     TxAction  `json:"action"`
	ObservedAt time.Time `json:"observed_at"`
}

// Journal is an append-only record of what the engine observed. The engine
// writes to it but never restores session state from it.
type Journal interface {
	RecordTransition(ctx context.Context, t Transition) error
	RecordConfirmation(ctx context.Context, c Confirmation) error
	ListTransitions(ctx context.Context, market string, opts ListOpts) ([]Transition, error)
}
