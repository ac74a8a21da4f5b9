package handler

import (
	"log/slog"
	"net/http"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// TradeHandler serves the append-only trade history.
type TradeHandler struct {
	trades domain.TradeStore
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
}

// ListTrades returns trade records filtered by market or pool, newest first.
// GET /api/trades?market_id=...  or  GET /api/trades?pool_id=...
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	marketID := q.Get("market_id")
	poolID := q.Get("pool_id")

	if marketID == "" && poolID == "" {
		writeError(w, http.StatusBadRequest, "market_id or pool_id query parameter required")
		return
	}

	opts := parseListOpts(r)

	var trades []domain.TradeRecord
	var err error
	if marketID != "" {
		trades, err = h.trades.ListByMarket(r.Context(), marketID, opts)
	} else {
		trades, err = h.trades.ListByPool(r.Context(), poolID, opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
