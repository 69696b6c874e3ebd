package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/sales"
	"github.com/go-chi/chi/v5"
)

type SaleService interface {
	Create(ctx context.Context, in sales.CreateInput) (sales.Sale, error)
	Close(ctx context.Context, id int64, paymentTypeID *int64) (sales.Sale, error)
	Cancel(ctx context.Context, id int64) (sales.Sale, error)
	Get(ctx context.Context, id int64) (sales.Sale, error)
	List(ctx context.Context, f sales.Filter) ([]sales.Sale, error)
}

type SalesHandler struct {
	Sales SaleService
}

type closeSaleReq struct {
	PaymentTypeID *int64 `json:"payment_type_id"`
}

func (h *SalesHandler) Register(r chi.Router) {
	r.Route("/sales", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Patch("/{id}/close", h.close)
		r.Patch("/{id}/cancel", h.cancel)
	})
}

func (h *SalesHandler) create(w http.ResponseWriter, r *http.Request) {
	var req sales.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s, err := h.Sales.Create(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *SalesHandler) list(w http.ResponseWriter, r *http.Request) {
	var f sales.Filter
	var err error
	if f.BusinessID, err = queryInt64(r, "business_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.OperatorID, err = queryInt64(r, "operator_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.From, err = queryTime(r, "from"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		writeError(w, r, err)
		return
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := sales.Status(s)
		f.Status = &status
	}
	f.Limit = queryLimit(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Sales.List(ctx, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []sales.Sale{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *SalesHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.Sales.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SalesHandler) close(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req closeSaleReq
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s, err := h.Sales.Close(ctx, id, req.PaymentTypeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SalesHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s, err := h.Sales.Cancel(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
