package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// JournalStore implements domain.Journal using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// RecordTransition appends one lifecycle transition.
func (s *JournalStore) RecordTransition(ctx context.Context, t domain.Transition) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ObservedAt.IsZero() {
		t.ObservedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO market_transitions
			(id, market, from_state, to_state, winning_option, source, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		t.ID, strings.ToLower(t.Market), string(t.From), string(t.To),
		t.WinningOption, string(t.Source), t.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record transition %s %s->%s: %w", t.Market, t.From, t.To, err)
	}
	return nil
}

// RecordConfirmation appends a confirmed transaction. A hash already on
// record is ignored.
func (s *JournalStore) RecordConfirmation(ctx context.Context, c domain.Confirmation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ObservedAt.IsZero() {
		c.ObservedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO tx_confirmations (id, market, hash, action, observed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		c.ID, strings.ToLower(c.Market), c.Hash, string(c.Action), c.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record confirmation %s: %w", c.Hash, err)
	}
	return nil
}

// ListTransitions returns a market's transitions, newest first.
func (s *JournalStore) ListTransitions(ctx context.Context, market string, opts domain.ListOpts) ([]domain.Transition, error) {
	query := `
		SELECT id, market, from_state, to_state, winning_option, source, observed_at
		FROM market_transitions
		WHERE market = $1`
	args := []any{strings.ToLower(market)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND observed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND observed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY observed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transitions %s: %w", market, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Transition, error) {
		var (
			t          domain.Transition
			from, to   string
			source     string
			winningOpt *int32
		)
		if err := row.Scan(&t.ID, &t.Market, &from, &to, &winningOpt, &source, &t.ObservedAt); err != nil {
			return domain.Transition{}, err
		}
		t.From, t.To, t.Source = domain.MarketState(from), domain.MarketState(to), domain.SnapshotSource(source)
		if winningOpt != nil {
			t.WinningOption = domain.IndexPtr(int(*winningOpt))
		}
		return t, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: scan transitions: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.Journal = (*JournalStore)(nil)
