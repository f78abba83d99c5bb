package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

const (
	defaultRatePerSec = 10
	defaultBurst      = 5
	defaultPageSize   = 1000
	// maxPages bounds the follow-up pages requested per collection.
	maxPages = 100
)

// Config holds the indexer endpoint settings.
type Config struct {
	URL        string
	APIKey     string
	RatePerSec float64
	Timeout    time.Duration
	// PageSize is the number of records requested per collection page.
	PageSize int
	// Decimals is the precision tag applied to every amount the indexer
	// reports. It must match the market's collateral token.
	Decimals uint8
}

// Client is a GraphQL client for the betting-market subgraph. It returns
// the raw event history of a market; folding it into a snapshot is the
// caller's job.
type Client struct {
	graphqlURL string
	apiKey     string
	decimals   uint8
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new indexer client.
func NewClient(cfg Config) *Client {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		graphqlURL: cfg.URL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		decimals:   cfg.Decimals,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), defaultBurst),
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const marketEventsQuery = `
	query MarketEvents($market: String!, $first: Int!) {
		marketCreateds(first: 1, where: { market: $market }) {
			id market blockNumber logIndex blockTimestamp transactionHash
			question description category platform resolutionSource identifier
			options creator endTime creatorFeeBps
		}
		betPlaceds(first: $first, orderBy: id, orderDirection: asc, where: { market: $market }) {
			id market blockNumber logIndex blockTimestamp transactionHash
			bettor optionIndex amount
		}
		betExiteds(first: $first, orderBy: id, orderDirection: asc, where: { market: $market }) {
			id market blockNumber logIndex blockTimestamp transactionHash
			bettor optionIndex amount
		}
		resolutionProposeds(first: $first, orderBy: id, orderDirection: asc, where: { market: $market }) {
			id market blockNumber logIndex blockTimestamp transactionHash
			proposer optionIndex
		}
		resolutionFinalizeds(first: 1, where: { market: $market }) {
			id market blockNumber logIndex blockTimestamp transactionHash
			optionIndex
		}
		participantCountChangeds(first: 1, orderBy: blockNumber, orderDirection: desc, where: { market: $market }) {
			id market blockNumber logIndex blockTimestamp transactionHash
			count
		}
	}
`

// collectionPageQuery continues one collection after the id cursor $after.
// Arguments: collection name, entity fields.
const collectionPageQuery = `
	query %[1]sPage($market: String!, $first: Int!, $after: String!) {
		%[1]s(first: $first, orderBy: id, orderDirection: asc, where: { market: $market, id_gt: $after }) {
			id market blockNumber logIndex blockTimestamp transactionHash
			%[2]s
		}
	}
`

// FetchMarketEvents returns every indexed record for market. Records come
// back grouped by kind; ordering them is left to the snapshot builder.
func (c *Client) FetchMarketEvents(ctx context.Context, market string) ([]domain.MarketEvent, error) {
	market = strings.ToLower(market)
	variables := map[string]any{
		"market": market,
		"first":  c.pageSize,
	}

	respData, err := c.doQuery(ctx, "MarketEvents", marketEventsQuery, variables)
	if err != nil {
		return nil, fmt.Errorf("indexer: fetch market events: %w", err)
	}

	var result marketEventsResult
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("indexer: decode market events: %w: %v", domain.ErrMalformedEvent, err)
	}

	if result.Placed, err = fetchRest(ctx, c, market, "betPlaceds", "bettor optionIndex amount", result.Placed); err != nil {
		return nil, err
	}
	if result.Exited, err = fetchRest(ctx, c, market, "betExiteds", "bettor optionIndex amount", result.Exited); err != nil {
		return nil, err
	}
	if result.Proposed, err = fetchRest(ctx, c, market, "resolutionProposeds", "proposer optionIndex", result.Proposed); err != nil {
		return nil, err
	}

	events, err := result.toDomain(c.decimals)
	if err != nil {
		return nil, fmt.Errorf("indexer: %w", err)
	}
	return events, nil
}

// fetchRest requests the pages following first while the previous page
// came back full. Each page continues after the last record's id.
func fetchRest[T interface{ cursor() string }](ctx context.Context, c *Client, market, collection, fields string, first []T) ([]T, error) {
	records := first
	query := fmt.Sprintf(collectionPageQuery, collection, fields)

	for last, pages := len(first), 0; last >= c.pageSize; pages++ {
		if pages == maxPages {
			return nil, fmt.Errorf("indexer: %s: more than %d records", collection, (maxPages+1)*c.pageSize)
		}
		after := records[len(records)-1].cursor()
		if after == "" {
			return nil, fmt.Errorf("indexer: %w", malformed(collection+".id", after))
		}

		respData, err := c.doQuery(ctx, collection+"Page", query, map[string]any{
			"market": market,
			"first":  c.pageSize,
			"after":  after,
		})
		if err != nil {
			return nil, fmt.Errorf("indexer: fetch %s after %s: %w", collection, after, err)
		}

		var page map[string][]T
		if err := json.Unmarshal(respData, &page); err != nil {
			return nil, fmt.Errorf("indexer: decode %s page: %w: %v", collection, domain.ErrMalformedEvent, err)
		}
		records = append(records, page[collection]...)
		last = len(page[collection])
	}
	return records, nil
}

// FetchLatestBlock returns the latest block number indexed by the subgraph.
// This is useful for monitoring indexing lag.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, "LatestBlock", query, nil)
	if err != nil {
		return 0, fmt.Errorf("indexer: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("indexer: decode latest block: %w", err)
	}

	return result.Meta.Block.Number, nil
}

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, op, query string, variables map[string]any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	jsonBody, err := json.Marshal(graphqlRequest{
		Query:         query,
		OperationName: op,
		Variables:     variables,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
		return nil, fmt.Errorf("graphql response without data")
	}

	return gqlResp.Data, nil
}
