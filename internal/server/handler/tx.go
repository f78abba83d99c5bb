package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketstate/internal/domain"
)

// TxObserver receives transaction confirmation signals.
type TxObserver interface {
	Observe(ctx context.Context, market string, st domain.TxStatus) (bool, error)
}

// TxHandler accepts confirmation signals from the transaction layer.
type TxHandler struct {
	watcher TxObserver
	logger  *slog.Logger
}

// NewTxHandler creates a TxHandler.
func NewTxHandler(watcher TxObserver, logger *slog.Logger) *TxHandler {
	return &TxHandler{
		watcher: watcher,
		logger:  logHandler(logger, "tx"),
	}
}

// Observe records one status report. The response says whether it
// scheduled a refetch of the market.
// POST /api/markets/{address}/tx
func (h *TxHandler) Observe(w http.ResponseWriter, r *http.Request) {
	var st domain.TxStatus
	if err := decodeJSON(w, r, &st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scheduled, err := h.watcher.Observe(r.Context(), pathParam(r, "address"), st)
	if err != nil {
		writeServiceError(w, r, h.logger, "observe tx", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refetch_scheduled": scheduled})
}
