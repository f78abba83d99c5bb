package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"postgres://ms:pw@db:5432/marketstate?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "marketstate", User: "ms", Password: "pw"}),
	)
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestPendingMigrations(t *testing.T) {
	names, err := pendingMigrations(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_journal.sql", names[0])
	assert.IsNonDecreasing(t, names)
}

// TestJournalStore_Integration runs only when MARKETSTATE_TEST_POSTGRES_DSN
// points at a disposable database.
func TestJournalStore_Integration(t *testing.T) {
	dsn := os.Getenv("MARKETSTATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MARKETSTATE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations must be idempotent")

	store := NewJournalStore(c.Pool())
	market := "0x" + time.Now().Format("20060102150405.000000000")

	require.NoError(t, store.RecordTransition(ctx, domain.Transition{
		Market: market, From: domain.MarketStateTrading, To: domain.MarketStateProposed,
		Source: domain.SourceChain, ObservedAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, store.RecordTransition(ctx, domain.Transition{
		Market: market, From: domain.MarketStateProposed, To: domain.MarketStateResolved,
		WinningOption: domain.IndexPtr(1), Source: domain.SourceIndexer,
	}))

	got, err := store.ListTransitions(ctx, market, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.MarketStateResolved, got[0].To)
	require.NotNil(t, got[0].WinningOption)
	assert.Equal(t, 1, *got[0].WinningOption)

	conf := domain.Confirmation{Market: market, Hash: "0xfeed" + market, Action: domain.TxPlaceBet}
	require.NoError(t, store.RecordConfirmation(ctx, conf))
	require.NoError(t, store.RecordConfirmation(ctx, conf))
}
