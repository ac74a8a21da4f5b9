package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pulsemarkets/pulse/internal/domain"
)

// PoolHandler serves agent balance-pool endpoints.
type PoolHandler struct {
	pools  domain.PoolStore
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools domain.PoolStore, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logger}
}

type createPoolRequest struct {
	OwnerID        string  `json:"owner_id"`
	InitialBalance float64 `json:"initial_balance"`
	ReferrerID     *string `json:"referrer_id"`
}

// CreatePool registers a new balance pool.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if req.InitialBalance < 0 {
		writeError(w, http.StatusBadRequest, "initial_balance must not be negative")
		return
	}

	referrer := req.ReferrerID
	if referrer != nil && *referrer == "" {
		referrer = nil
	}

	pool := domain.Pool{
		ID:               uuid.NewString(),
		OwnerID:          req.OwnerID,
		AvailableBalance: req.InitialBalance,
		ReferrerID:       referrer,
		Active:           true,
	}
	if err := h.pools.Create(r.Context(), pool); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create pool failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

// GetPool returns a pool's balances and fee totals.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing pool id")
		return
	}

	pool, err := h.pools.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}
