package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pulsemarkets/pulse/internal/domain"
	"github.com/pulsemarkets/pulse/internal/ledger"
)

// TradeService is the slice of the ledger the position handler needs.
type TradeService interface {
	OpenPerpPosition(ctx context.Context, req ledger.OpenPerpRequest) (domain.Position, error)
	ClosePerpPosition(ctx context.Context, positionID string, exitHint *float64) (domain.Position, error)
	OpenPredictionPosition(ctx context.Context, req ledger.OpenPredictionRequest) (domain.Position, error)
	ClosePredictionPosition(ctx context.Context, positionID string) (domain.Position, error)
}

// PositionHandler serves position lifecycle endpoints.
type PositionHandler struct {
	trades    TradeService
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(trades TradeService, positions domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		trades:    trades,
		positions: positions,
		logger:    logger,
	}
}

type openPerpRequest struct {
	PoolID    string  `json:"pool_id"`
	Market    string  `json:"market"`
	Side      string  `json:"side"`
	Margin    float64 `json:"margin"`
	Leverage  float64 `json:"leverage"`
	Sentiment float64 `json:"sentiment"`
	Reasoning string  `json:"reasoning"`
}

// OpenPerp opens a leveraged position. Market accepts an ID, a ticker, or a
// name fragment.
// POST /api/positions/perp
func (h *PositionHandler) OpenPerp(w http.ResponseWriter, r *http.Request) {
	var req openPerpRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.PoolID == "" || req.Market == "" {
		writeError(w, http.StatusBadRequest, "pool_id and market are required")
		return
	}

	pos, err := h.trades.OpenPerpPosition(r.Context(), ledger.OpenPerpRequest{
		PoolID:    req.PoolID,
		Market:    req.Market,
		Side:      domain.Side(req.Side),
		Margin:    req.Margin,
		Leverage:  req.Leverage,
		Sentiment: req.Sentiment,
		Reasoning: req.Reasoning,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open perp failed",
			slog.String("pool_id", req.PoolID),
			slog.String("market", req.Market),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

type openPredictionRequest struct {
	PoolID    string  `json:"pool_id"`
	Market    string  `json:"market"`
	Side      string  `json:"side"`
	Amount    float64 `json:"amount"`
	Sentiment float64 `json:"sentiment"`
	Reasoning string  `json:"reasoning"`
}

// OpenPrediction buys outcome shares in a prediction market. Market accepts
// an ID or a question fragment.
// POST /api/positions/prediction
func (h *PositionHandler) OpenPrediction(w http.ResponseWriter, r *http.Request) {
	var req openPredictionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.PoolID == "" || req.Market == "" {
		writeError(w, http.StatusBadRequest, "pool_id and market are required")
		return
	}

	pos, err := h.trades.OpenPredictionPosition(r.Context(), ledger.OpenPredictionRequest{
		PoolID:    req.PoolID,
		Market:    req.Market,
		Side:      domain.Side(req.Side),
		Amount:    req.Amount,
		Sentiment: req.Sentiment,
		Reasoning: req.Reasoning,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open prediction failed",
			slog.String("pool_id", req.PoolID),
			slog.String("market", req.Market),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

type closePositionRequest struct {
	ExitPrice *float64 `json:"exit_price"`
}

// ClosePosition closes an open position of either kind. The optional
// exit_price is a hint honored for perps only.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	var req closePositionRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var closed domain.Position
	switch pos.Kind {
	case domain.PositionKindPerp:
		closed, err = h.trades.ClosePerpPosition(r.Context(), id, req.ExitPrice)
	case domain.PositionKindPrediction:
		closed, err = h.trades.ClosePredictionPosition(r.Context(), id)
	default:
		writeError(w, http.StatusInternalServerError, "unknown position kind")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closed)
}

// GetPosition returns a single position by its ID.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.positions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns open positions for a pool.
// GET /api/positions?pool_id=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	poolID := r.URL.Query().Get("pool_id")
	if poolID == "" {
		writeError(w, http.StatusBadRequest, "pool_id query parameter required")
		return
	}

	positions, err := h.positions.ListOpenByPool(r.Context(), poolID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("pool_id", poolID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// PositionHistory returns a pool's positions including closed ones, newest
// first.
// GET /api/positions/history?pool_id=...&limit=50&offset=0
func (h *PositionHandler) PositionHistory(w http.ResponseWriter, r *http.Request) {
	poolID := r.URL.Query().Get("pool_id")
	if poolID == "" {
		writeError(w, http.StatusBadRequest, "pool_id query parameter required")
		return
	}

	positions, err := h.positions.ListHistory(r.Context(), poolID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: position history failed",
			slog.String("pool_id", poolID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list position history")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
