package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// PriceService is the slice of the broadcast service the market handler
// needs. Declared locally so the handler package does not depend on the
// concrete implementation.
type PriceService interface {
	ApplyPrice(ctx context.Context, marketID string, newPrice float64, source string) (domain.PriceUpdate, error)
}

// MarketHandler serves organization-market HTTP endpoints.
type MarketHandler struct {
	markets domain.MarketStore
	history domain.PriceHistoryStore
	prices  PriceService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets domain.MarketStore, history domain.PriceHistoryStore, prices PriceService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		history: history,
		prices:  prices,
		logger:  logger,
	}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
}

// ListMarkets returns all active markets.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.ListActive(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Total: len(markets)})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

type createMarketRequest struct {
	Name         string  `json:"name"`
	Ticker       string  `json:"ticker"`
	InitialPrice float64 `json:"initial_price"`
}

// CreateMarket registers a new organization market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Ticker == "" {
		writeError(w, http.StatusBadRequest, "name and ticker are required")
		return
	}
	if req.InitialPrice <= 0 {
		writeError(w, http.StatusBadRequest, "initial_price must be positive")
		return
	}

	market := domain.Market{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Ticker:       req.Ticker,
		CurrentPrice: req.InitialPrice,
		Active:       true,
	}
	if err := h.markets.Create(r.Context(), market); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create market failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

type setPriceRequest struct {
	Price float64 `json:"price"`
}

// SetPrice applies a manual mark-price override to a market.
// POST /api/markets/{id}/price
func (h *MarketHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req setPriceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Price <= 0 {
		writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}

	update, err := h.prices.ApplyPrice(r.Context(), id, req.Price, "manual")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: set price failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

type priceHistoryResponse struct {
	Updates []domain.PriceUpdate `json:"updates"`
}

// PriceHistory returns recorded price updates for a market, newest first.
// GET /api/markets/{id}/prices?limit=50&offset=0&since=...&until=...
func (h *MarketHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	updates, err := h.history.ListByMarket(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: price history failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list price history")
		return
	}
	if updates == nil {
		updates = []domain.PriceUpdate{}
	}
	writeJSON(w, http.StatusOK, priceHistoryResponse{Updates: updates})
}
