package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/logging"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderService interface {
	Create(ctx context.Context, in orders.CreateInput) (orders.Order, error)
	Get(ctx context.Context, id int64) (orders.Order, error)
	List(ctx context.Context, f orders.Filter) ([]orders.Order, error)
	Transition(ctx context.Context, id int64, target orders.Status, reason string) (orders.Order, error)
}

// StatusReader is the read side of the order status cache.
type StatusReader interface {
	Status(ctx context.Context, orderID int64) (orders.Status, time.Time, bool, error)
	SetStatus(ctx context.Context, orderID int64, s orders.Status, at time.Time) error
}

type OrdersHandler struct {
	Orders OrderService
	Cache  StatusReader
}

type transitionReq struct {
	Status orders.Status `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

type statusResp struct {
	OrderID   int64         `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
	Cached    bool          `json:"cached"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/status", h.transition)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Create(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	var f orders.Filter
	var err error
	if f.BusinessID, err = queryInt64(r, "business_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.UserID, err = queryInt64(r, "user_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := orders.Status(s)
		f.Status = &status
	}
	f.Limit = queryLimit(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.List(ctx, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus answers from the cache and falls back to the database, warming
// the cache on a miss.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		s, at, ok, err := h.Cache.Status(ctx, id)
		if err != nil {
			logging.FromContext(ctx).Warn("status cache read failed", zap.Int64("order_id", id), zap.Error(err))
		}
		if ok {
			writeJSON(w, http.StatusOK, statusResp{OrderID: id, Status: s, UpdatedAt: at, Cached: true})
			return
		}
	}

	o, err := h.Orders.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.SetStatus(ctx, o.ID, o.Status, o.UpdatedAt); err != nil {
			logging.FromContext(ctx).Warn("status cache write failed", zap.Int64("order_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, statusResp{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req transitionReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Transition(ctx, id, req.Status, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
