package indexer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// recordMeta is the block position carried by every subgraph entity.
// Numeric fields arrive as BigInt strings.
type recordMeta struct {
	ID              string `json:"id"`
	Market          string `json:"market"`
	BlockNumber     string `json:"blockNumber"`
	LogIndex        string `json:"logIndex"`
	BlockTimestamp  string `json:"blockTimestamp"`
	TransactionHash string `json:"transactionHash"`
}

type createdRecord struct {
	recordMeta
	Question         string   `json:"question"`
	Description      string   `json:"description"`
	Category         string   `json:"category"`
	Platform         string   `json:"platform"`
	ResolutionSource string   `json:"resolutionSource"`
	Identifier       string   `json:"identifier"`
	Options          []string `json:"options"`
	Creator          string   `json:"creator"`
	EndTime          string   `json:"endTime"`
	CreatorFeeBps    string   `json:"creatorFeeBps"`
}

type betRecord struct {
	recordMeta
	Bettor      string `json:"bettor"`
	OptionIndex string `json:"optionIndex"`
	Amount      string `json:"amount"`
}

type proposalRecord struct {
	recordMeta
	Proposer    string `json:"proposer"`
	OptionIndex string `json:"optionIndex"`
}

type finalizedRecord struct {
	recordMeta
	OptionIndex string `json:"optionIndex"`
}

type participantsRecord struct {
	recordMeta
	Count string `json:"count"`
}

type marketEventsResult struct {
	Created      []createdRecord      `json:"marketCreateds"`
	Placed       []betRecord          `json:"betPlaceds"`
	Exited       []betRecord          `json:"betExiteds"`
	Proposed     []proposalRecord     `json:"resolutionProposeds"`
	Finalized    []finalizedRecord    `json:"resolutionFinalizeds"`
	Participants []participantsRecord `json:"participantCountChangeds"`
}

func (r marketEventsResult) toDomain(decimals uint8) ([]domain.MarketEvent, error) {
	n := len(r.Created) + len(r.Placed) + len(r.Exited) + len(r.Proposed) + len(r.Finalized) + len(r.Participants)
	out := make([]domain.MarketEvent, 0, n)

	for _, rec := range r.Created {
		meta, err := rec.meta()
		if err != nil {
			return nil, err
		}
		end, err := parseUnix(rec.EndTime)
		if err != nil {
			return nil, malformed("marketCreated.endTime", rec.EndTime)
		}
		fee, err := strconv.ParseUint(rec.CreatorFeeBps, 10, 32)
		if err != nil && rec.CreatorFeeBps != "" {
			return nil, malformed("marketCreated.creatorFeeBps", rec.CreatorFeeBps)
		}
		out = append(out, domain.MarketCreated{
			EventMeta:        meta,
			Question:         rec.Question,
			Description:      rec.Description,
			Category:         rec.Category,
			Platform:         rec.Platform,
			ResolutionSource: rec.ResolutionSource,
			Identifier:       rec.Identifier,
			Options:          rec.Options,
			Creator:          rec.Creator,
			EndTime:          end,
			CreatorFeeBps:    uint32(fee),
		})
	}

	for _, rec := range r.Placed {
		meta, option, amount, err := rec.decode(decimals)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.BetPlaced{EventMeta: meta, Bettor: rec.Bettor, Option: option, Amount: amount})
	}
	for _, rec := range r.Exited {
		meta, option, amount, err := rec.decode(decimals)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.BetExited{EventMeta: meta, Bettor: rec.Bettor, Option: option, Amount: amount})
	}

	for _, rec := range r.Proposed {
		meta, err := rec.meta()
		if err != nil {
			return nil, err
		}
		option, err := strconv.Atoi(rec.OptionIndex)
		if err != nil {
			return nil, malformed("resolutionProposed.optionIndex", rec.OptionIndex)
		}
		out = append(out, domain.ResolutionProposed{EventMeta: meta, Proposer: rec.Proposer, Option: option})
	}

	for _, rec := range r.Finalized {
		meta, err := rec.meta()
		if err != nil {
			return nil, err
		}
		option, err := strconv.Atoi(rec.OptionIndex)
		if err != nil {
			return nil, malformed("resolutionFinalized.optionIndex", rec.OptionIndex)
		}
		out = append(out, domain.ResolutionFinalized{EventMeta: meta, Option: option})
	}

	for _, rec := range r.Participants {
		meta, err := rec.meta()
		if err != nil {
			return nil, err
		}
		count, err := strconv.ParseInt(rec.Count, 10, 64)
		if err != nil {
			return nil, malformed("participantCountChanged.count", rec.Count)
		}
		out = append(out, domain.ParticipantCountChanged{EventMeta: meta, Count: count})
	}

	return out, nil
}

func (m recordMeta) cursor() string { return m.ID }

// meta decodes the block position. A missing market key is left empty so
// the builder can reject the record with context.
func (m recordMeta) meta() (domain.EventMeta, error) {
	block, err := strconv.ParseUint(m.BlockNumber, 10, 64)
	if err != nil {
		return domain.EventMeta{}, malformed("blockNumber", m.BlockNumber)
	}
	logIndex, err := strconv.ParseUint(m.LogIndex, 10, 64)
	if err != nil {
		return domain.EventMeta{}, malformed("logIndex", m.LogIndex)
	}
	ts, err := parseUnix(m.BlockTimestamp)
	if err != nil {
		return domain.EventMeta{}, malformed("blockTimestamp", m.BlockTimestamp)
	}
	return domain.EventMeta{
		Market:      m.Market,
		BlockNumber: block,
		LogIndex:    logIndex,
		Timestamp:   ts,
		TxHash:      m.TransactionHash,
	}, nil
}

func (b betRecord) decode(decimals uint8) (domain.EventMeta, int, domain.Amount, error) {
	meta, err := b.meta()
	if err != nil {
		return domain.EventMeta{}, 0, domain.Amount{}, err
	}
	option, err := strconv.Atoi(b.OptionIndex)
	if err != nil {
		return domain.EventMeta{}, 0, domain.Amount{}, malformed("optionIndex", b.OptionIndex)
	}
	amount, err := domain.ParseAmount(b.Amount, decimals)
	if err != nil {
		return domain.EventMeta{}, 0, domain.Amount{}, malformed("amount", b.Amount)
	}
	return meta, option, amount, nil
}

func parseUnix(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

func malformed(field, value string) error {
	return fmt.Errorf("%w: %s %q", domain.ErrMalformedEvent, field, value)
}
