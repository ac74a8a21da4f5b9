package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pulsemarkets/pulse/internal/domain"
	"github.com/pulsemarkets/pulse/internal/pricing"
)

// PredictionHandler serves binary prediction market endpoints.
type PredictionHandler struct {
	predictions domain.PredictionMarketStore
	feeRate     float64
	logger      *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler. feeRate is used for
// indicative buy quotes only; execution re-prices inside the ledger.
func NewPredictionHandler(predictions domain.PredictionMarketStore, feeRate float64, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{
		predictions: predictions,
		feeRate:     feeRate,
		logger:      logger,
	}
}

type predictionView struct {
	Market   domain.PredictionMarket `json:"market"`
	PriceYes float64                 `json:"price_yes"`
	PriceNo  float64                 `json:"price_no"`
}

func viewOf(m domain.PredictionMarket) predictionView {
	yes, no := pricing.OutcomePrices(m.YesShares, m.NoShares)
	return predictionView{Market: m, PriceYes: yes, PriceNo: no}
}

type listPredictionsResponse struct {
	Markets []predictionView `json:"markets"`
	Total   int              `json:"total"`
}

// ListPredictions returns open, unexpired prediction markets with their
// implied outcome prices.
// GET /api/predictions
func (h *PredictionHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	markets, err := h.predictions.ListOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list predictions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list prediction markets")
		return
	}

	views := make([]predictionView, 0, len(markets))
	for _, m := range markets {
		views = append(views, viewOf(m))
	}
	writeJSON(w, http.StatusOK, listPredictionsResponse{Markets: views, Total: len(views)})
}

// GetPrediction returns a single prediction market by its ID.
// GET /api/predictions/{id}
func (h *PredictionHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.predictions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(market))
}

type createPredictionRequest struct {
	Question  string    `json:"question"`
	YesShares float64   `json:"yes_shares"`
	NoShares  float64   `json:"no_shares"`
	EndDate   time.Time `json:"end_date"`
}

// CreatePrediction seeds a new constant-product prediction market.
// POST /api/predictions
func (h *PredictionHandler) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req createPredictionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.YesShares <= 0 || req.NoShares <= 0 {
		writeError(w, http.StatusBadRequest, "yes_shares and no_shares must be positive")
		return
	}
	if !req.EndDate.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "end_date must be in the future")
		return
	}

	market := domain.PredictionMarket{
		ID:        uuid.NewString(),
		Question:  req.Question,
		YesShares: req.YesShares,
		NoShares:  req.NoShares,
		EndDate:   req.EndDate,
	}
	if err := h.predictions.Create(r.Context(), market); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create prediction failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(market))
}

type resolvePredictionRequest struct {
	Outcome bool `json:"outcome"`
}

// ResolvePrediction marks a market resolved with the given outcome. A
// resolved market is terminal and rejects further trades.
// POST /api/predictions/{id}/resolve
func (h *PredictionHandler) ResolvePrediction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req resolvePredictionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.predictions.MarkResolved(r.Context(), id, req.Outcome); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"resolved":  true,
		"outcome":   req.Outcome,
	})
}

type quoteResponse struct {
	SharesOut float64 `json:"shares_out"`
	AvgPrice  float64 `json:"avg_price"`
	Fee       float64 `json:"fee"`
	Net       float64 `json:"net"`
	PriceYes  float64 `json:"price_yes_after"`
	PriceNo   float64 `json:"price_no_after"`
}

// QuoteBuy returns an indicative quote for buying outcome shares. The quote
// does not reserve liquidity; execution may fill at a different price.
// GET /api/predictions/{id}/quote?side=yes&amount=100
func (h *PredictionHandler) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	side := domain.Side(r.URL.Query().Get("side"))
	if !side.Valid(domain.PositionKindPrediction) {
		writeError(w, http.StatusBadRequest, "side must be yes or no")
		return
	}
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive number")
		return
	}

	market, err := h.predictions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	quote, err := pricing.QuoteBuy(market.YesShares, market.NoShares, amount, h.feeRate, side)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	yes, no := pricing.OutcomePrices(quote.NewYes, quote.NewNo)
	writeJSON(w, http.StatusOK, quoteResponse{
		SharesOut: quote.SharesOut,
		AvgPrice:  quote.AvgPrice,
		Fee:       quote.Fee,
		Net:       quote.Net,
		PriceYes:  yes,
		PriceNo:   no,
	})
}
