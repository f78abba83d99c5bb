package indexer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketstate/internal/domain"
	"github.com/alanyoungcy/marketstate/internal/platform/indexer"
)

const market = "0x5fbdb2315678afecb367f032d93f642f64180aa3"

const eventsBody = `{"data":{
	"marketCreateds":[{"market":"0x5fbdb2315678afecb367f032d93f642f64180aa3","blockNumber":"100","logIndex":"3",
		"blockTimestamp":"1767225600","transactionHash":"0xaa",
		"question":"Will it rain?","options":["Yes","No"],"creator":"0x7099",
		"endTime":"1780272000","creatorFeeBps":"200"}],
	"betPlaceds":[{"market":"0x5fbdb2315678afecb367f032d93f642f64180aa3","blockNumber":"101","logIndex":"0",
		"blockTimestamp":"1767225700","transactionHash":"0xbb","bettor":"0x1","optionIndex":"0","amount":"50000000"}],
	"betExiteds":[],
	"resolutionProposeds":[],
	"resolutionFinalizeds":[],
	"participantCountChangeds":[{"market":"0x5fbdb2315678afecb367f032d93f642f64180aa3","blockNumber":"101","logIndex":"1",
		"blockTimestamp":"1767225700","transactionHash":"0xbb","count":"1"}]
}}`

func newServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if seen != nil {
			var req struct {
				Variables map[string]any `json:"variables"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			*seen = req.Variables
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchMarketEvents(t *testing.T) {
	var vars map[string]any
	srv := newServer(t, http.StatusOK, eventsBody, &vars)
	c := indexer.NewClient(indexer.Config{URL: srv.URL, APIKey: " secret ", Decimals: domain.DecimalsUSDC})

	events, err := c.FetchMarketEvents(context.Background(), "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, market, vars["market"])

	created, ok := events[0].(domain.MarketCreated)
	require.True(t, ok)
	assert.Equal(t, "Will it rain?", created.Question)
	assert.Equal(t, uint32(200), created.CreatorFeeBps)
	assert.Equal(t, uint64(100), created.BlockNumber)
	assert.Equal(t, int64(1780272000), created.EndTime.Unix())

	bet, ok := events[1].(domain.BetPlaced)
	require.True(t, ok)
	assert.Equal(t, "50", bet.Amount.String())
	assert.Equal(t, domain.DecimalsUSDC, bet.Amount.Decimals)

	count, ok := events[2].(domain.ParticipantCountChanged)
	require.True(t, ok)
	assert.Equal(t, int64(1), count.Count)
}

func TestFetchMarketEvents_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, domain.ErrRateLimited},
		{"unauthorized", http.StatusUnauthorized, `{}`, domain.ErrUnauthorized},
		{"malformed amount", http.StatusOK, `{"data":{"betPlaceds":[{"market":"0x1","blockNumber":"1","logIndex":"0",
			"blockTimestamp":"1","optionIndex":"0","amount":"1.5"}]}}`, domain.ErrMalformedEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.body, nil)
			c := indexer.NewClient(indexer.Config{URL: srv.URL, APIKey: "secret"})

			_, err := c.FetchMarketEvents(context.Background(), market)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("graphql error", func(t *testing.T) {
		srv := newServer(t, http.StatusOK, `{"errors":[{"message":"indexing_error"}]}`, nil)
		c := indexer.NewClient(indexer.Config{URL: srv.URL, APIKey: "secret"})

		_, err := c.FetchMarketEvents(context.Background(), market)
		assert.ErrorContains(t, err, "indexing_error")
	})
}

func betJSON(id string, block int) string {
	return fmt.Sprintf(`{"id":%q,"market":%q,"blockNumber":"%d","logIndex":"0","blockTimestamp":"1767225700",`+
		`"transactionHash":"0xbb","bettor":"0x1","optionIndex":"0","amount":"1000000"}`, id, market, block)
}

func TestFetchMarketEvents_PagesFullCollections(t *testing.T) {
	var (
		mu      sync.Mutex
		ops     []string
		cursors []any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OperationName string         `json:"operationName"`
			Variables     map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		ops = append(ops, req.OperationName)
		mu.Unlock()

		var body string
		switch req.OperationName {
		case "MarketEvents":
			assert.Equal(t, float64(2), req.Variables["first"])
			body = `{"data":{"marketCreateds":[],"betPlaceds":[` + betJSON("b1", 10) + `,` + betJSON("b2", 11) +
				`],"betExiteds":[],"resolutionProposeds":[],"resolutionFinalizeds":[],"participantCountChangeds":[]}}`
		case "betPlacedsPage":
			mu.Lock()
			cursors = append(cursors, req.Variables["after"])
			mu.Unlock()
			if req.Variables["after"] == "b2" {
				body = `{"data":{"betPlaceds":[` + betJSON("b3", 12) + `,` + betJSON("b4", 13) + `]}}`
			} else {
				body = `{"data":{"betPlaceds":[` + betJSON("b5", 14) + `]}}`
			}
		default:
			t.Errorf("unexpected operation %q", req.OperationName)
			body = `{"data":{}}`
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c := indexer.NewClient(indexer.Config{URL: srv.URL, PageSize: 2, Decimals: domain.DecimalsUSDC})
	events, err := c.FetchMarketEvents(context.Background(), market)
	require.NoError(t, err)

	require.Len(t, events, 5)
	for i, e := range events {
		bet, ok := e.(domain.BetPlaced)
		require.True(t, ok)
		assert.Equal(t, uint64(10+i), bet.BlockNumber)
		assert.Equal(t, "1", bet.Amount.String())
	}
	assert.Equal(t, []string{"MarketEvents", "betPlacedsPage", "betPlacedsPage"}, ops)
	assert.Equal(t, []any{"b2", "b4"}, cursors)
}

func TestFetchMarketEvents_PageFailureIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OperationName string `json:"operationName"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.OperationName != "MarketEvents" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"betPlaceds":[` + betJSON("b1", 10) + `]}}`))
	}))
	t.Cleanup(srv.Close)

	c := indexer.NewClient(indexer.Config{URL: srv.URL, PageSize: 1})
	_, err := c.FetchMarketEvents(context.Background(), market)
	assert.ErrorContains(t, err, "fetch betPlaceds after b1")
}

func TestFetchLatestBlock(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"data":{"_meta":{"block":{"number":4242}}}}`, nil)
	c := indexer.NewClient(indexer.Config{URL: srv.URL, APIKey: "secret"})

	n, err := c.FetchLatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4242), n)
}
