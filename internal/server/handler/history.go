package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// TransitionLister reads journaled lifecycle transitions.
type TransitionLister interface {
	ListTransitions(ctx context.Context, market string, opts domain.ListOpts) ([]domain.Transition, error)
}

// HistoryHandler serves a market's journaled lifecycle transitions.
type HistoryHandler struct {
	journal TransitionLister
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(journal TransitionLister, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		journal: journal,
		logger:  logHandler(logger, "history"),
	}
}

type historyResponse struct {
	Market      string              `json:"market"`
	Transitions []domain.Transition `json:"transitions"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

// ListTransitions returns transitions newest first.
// GET /api/markets/{address}/history?limit=50&offset=0&since=&until=
func (h *HistoryHandler) ListTransitions(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if !common.IsHexAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market := strings.ToLower(address)
	ts, err := h.journal.ListTransitions(r.Context(), market, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list transitions", err)
		return
	}
	if ts == nil {
		ts = []domain.Transition{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Market:      market,
		Transitions: ts,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	})
}
