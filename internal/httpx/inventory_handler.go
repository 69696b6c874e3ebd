package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type StockAdjuster interface {
	Adjust(ctx context.Context, businessID, productID int64, qty int, operatorID *int64) error
}

type InventoryHandler struct {
	Stock StockAdjuster
}

type adjustReq struct {
	Available  *int   `json:"available"`
	OperatorID *int64 `json:"operator_id,omitempty"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Put("/inventory/{businessID}/{productID}", h.adjust)
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request) {
	businessID, err := pathID(r, "businessID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	productID, err := pathID(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req adjustReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Available == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "available es obligatorio"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Stock.Adjust(ctx, businessID, productID, *req.Available, req.OperatorID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"business_id": businessID,
		"product_id":  productID,
		"available":   *req.Available,
	})
}
