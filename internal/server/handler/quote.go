package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketstate/internal/domain"
	"github.com/alanyoungcy/marketstate/internal/service"
)

// QuoteService defines the pricing and balance operations the quote handler
// needs.
type QuoteService interface {
	Quote(address string, option int, stake decimal.Decimal) (domain.BettingQuote, error)
	Odds(address string) ([]decimal.Decimal, error)
	CheckBalance(ctx context.Context, market, owner string, required, minimum decimal.Decimal) (service.BalanceReport, error)
}

// QuoteHandler serves bet quotes and balance checks.
type QuoteHandler struct {
	quotes QuoteService
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler.
func NewQuoteHandler(quotes QuoteService, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{
		quotes: quotes,
		logger: logHandler(logger, "quote"),
	}
}

type quoteResponse struct {
	Quote domain.BettingQuote `json:"quote"`
	Odds  []decimal.Decimal   `json:"odds"`
}

// Quote prices a stake on one option against the current merged snapshot.
// GET /api/markets/{address}/quote?option=0&amount=25.5
func (h *QuoteHandler) Quote(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	q := r.URL.Query()

	option, err := strconv.Atoi(q.Get("option"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "option must be an integer")
		return
	}
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal number")
		return
	}

	quote, err := h.quotes.Quote(address, option, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	odds, err := h.quotes.Odds(address)
	if err != nil {
		writeServiceError(w, r, h.logger, "odds", err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Quote: quote, Odds: odds})
}

// Balance classifies owner's collateral against a bet amount and reports
// whether the market still needs an allowance.
// GET /api/balance?market=0x..&owner=0x..&amount=10&minimum=1
func (h *QuoteHandler) Balance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	market, owner := q.Get("market"), q.Get("owner")
	if !common.IsHexAddress(market) || !common.IsHexAddress(owner) {
		writeError(w, http.StatusBadRequest, "market and owner must be addresses")
		return
	}

	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "amount must be a non-negative decimal")
		return
	}
	minimum := decimal.Zero
	if v := q.Get("minimum"); v != "" {
		minimum, err = decimal.NewFromString(v)
		if err != nil || minimum.IsNegative() {
			writeError(w, http.StatusBadRequest, "minimum must be a non-negative decimal")
			return
		}
	}

	report, err := h.quotes.CheckBalance(r.Context(), market, owner, amount, minimum)
	if err != nil {
		writeServiceError(w, r, h.logger, "check balance", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
