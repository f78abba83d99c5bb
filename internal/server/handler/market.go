package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketstate/internal/service"
)

// MarketRegistry defines the methods that the market handler requires from
// the service layer.
type MarketRegistry interface {
	View(address string) (service.View, error)
	Markets() []string
	Refetch(address string) error
	Visible(address string) error
}

// MarketHandler serves market views and the signals that drive their fetch
// sessions.
type MarketHandler struct {
	markets MarketRegistry
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given registry and logger.
func NewMarketHandler(markets MarketRegistry, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

type listMarketsResponse struct {
	Markets []service.View `json:"markets"`
	Total   int            `json:"total"`
}

// ListMarkets returns the view of every tracked market.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	addrs := h.markets.Markets()
	views := make([]service.View, 0, len(addrs))
	for _, a := range addrs {
		v, err := h.markets.View(a)
		if err != nil {
			// Untracked between Markets and View.
			continue
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: views, Total: len(views)})
}

// GetMarket returns the merged snapshot and fetch state of one market,
// starting to track it if needed. A freshly tracked market reports
// loading=true with no snapshot.
// GET /api/markets/{address}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	v, err := h.markets.View(address)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Refetch forces a refetch of one tracked market, clearing its retry budget.
// POST /api/markets/{address}/refetch
func (h *MarketHandler) Refetch(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if err := h.markets.Refetch(address); err != nil {
		writeServiceError(w, r, h.logger, "refetch", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "refetch_requested",
		"market": address,
	})
}

type visibilityRequest struct {
	Market string `json:"market"`
}

// Visibility tells the fetch sessions that a client is looking again. An
// empty body or market applies to every tracked market.
// POST /api/visibility
func (h *MarketHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.markets.Visible(req.Market); err != nil {
		writeServiceError(w, r, h.logger, "visibility", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
