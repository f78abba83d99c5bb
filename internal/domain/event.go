package domain

import "time"

// EventKind names an indexer event type.
type EventKind string

const (
	EventMarketCreated           EventKind = "market_created"
	EventBetPlaced               EventKind = "bet_placed"
	EventBetExited               EventKind = "bet_exited"
	EventResolutionProposed      EventKind = "resolution_proposed"
	EventResolutionFinalized     EventKind = "resolution_finalized"
	EventParticipantCountChanged EventKind = "participant_count_changed"
)

// EventMeta is carried by every indexer record. Market is the per-event
// market key; records without one cannot be attributed and are rejected.
type EventMeta struct {
	Market      string
	BlockNumber uint64
	LogIndex    uint64
	Timestamp   time.Time
	TxHash      string
}

// Meta returns the common record fields.
func (m EventMeta) Meta() EventMeta { return m }

// MarketEvent is one decoded indexer record.
type MarketEvent interface {
	Kind() EventKind
	Meta() EventMeta
}

type MarketCreated struct {
	EventMeta
	Question         string
	Description      string
	Category         string
	Platform         string
	ResolutionSource string
	Identifier       string
	Options          []string
	Creator          string
	EndTime          time.Time
	CreatorFeeBps    uint32
}

type BetPlaced struct {
	EventMeta
	Bettor string
	Option int
	Amount Amount
}

type BetExited struct {
	EventMeta
	Bettor string
	Option int
	Amount Amount
}

type ResolutionProposed struct {
	EventMeta
	Proposer string
	Option   int
}

type ResolutionFinalized struct {
	EventMeta
	Option int
}

type ParticipantCountChanged struct {
	EventMeta
	Count int64
}

func (MarketCreated) Kind() EventKind           { return EventMarketCreated }
func (BetPlaced) Kind() EventKind               { return EventBetPlaced }
func (BetExited) Kind() EventKind               { return EventBetExited }
func (ResolutionProposed) Kind() EventKind      { return EventResolutionProposed }
func (ResolutionFinalized) Kind() EventKind     { return EventResolutionFinalized }
func (ParticipantCountChanged) Kind() EventKind { return EventParticipantCountChanged }
