package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/logging"
	"github.com/ariefcatur/go-realtime-checkout/internal/payments"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxWebhookBytes = int64(65536)

type PaymentService interface {
	CreateIntent(ctx context.Context, userID, orderID int64, metadata map[string]string) (payments.IntentResult, error)
	Confirm(ctx context.Context, userID int64, intentID string, card payments.CardMeta) (payments.ConfirmResult, error)
	Refund(ctx context.Context, userID, orderID int64) (payments.RefundResult, error)
	ListPaymentMethods(ctx context.Context, userID int64) ([]payments.PaymentMethod, error)
	SavePaymentMethod(ctx context.Context, userID int64, in payments.SaveMethodInput) (payments.PaymentMethod, error)
	HandleWebhookEvent(ctx context.Context, e payments.Event) error
}

// EventParser verifies a raw webhook delivery and decodes it.
type EventParser func(payload []byte, signature string) (payments.Event, error)

type PaymentsHandler struct {
	Payments   PaymentService
	Metrics    interface{ Snapshot() payments.Snapshot }
	ParseEvent EventParser
	Auth       Authenticator
}

type createIntentReq struct {
	OrderID  int64             `json:"order_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type confirmReq struct {
	IntentID string `json:"payment_intent_id"`
	payments.CardMeta
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/webhook", h.webhook)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Middleware)
			r.Post("/intents", h.createIntent)
			r.Post("/confirm", h.confirm)
			r.Post("/orders/{id}/refund", h.refund)
			r.Get("/methods", h.listMethods)
			r.Post("/methods", h.saveMethod)
			r.Get("/metrics", h.metrics)
		})
	})
}

func (h *PaymentsHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	var req createIntentReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.OrderID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "order_id es obligatorio"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Payments.CreateIntent(ctx, userID, req.OrderID, req.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Reused {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

func (h *PaymentsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	var req confirmReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IntentID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "payment_intent_id es obligatorio"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Payments.Confirm(ctx, userID, req.IntentID, req.CardMeta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *PaymentsHandler) refund(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	orderID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Payments.Refund(ctx, userID, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *PaymentsHandler) listMethods(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Payments.ListPaymentMethods(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []payments.PaymentMethod{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *PaymentsHandler) saveMethod(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	var req payments.SaveMethodInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	pm, err := h.Payments.SavePaymentMethod(ctx, userID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pm)
}

func (h *PaymentsHandler) metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Metrics.Snapshot())
}

// webhook acknowledges event types it does not consume so the gateway stops
// retrying them. Processing failures answer 500 to get a redelivery.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "cuerpo demasiado grande"})
		return
	}

	ev, err := h.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrIgnoredEvent):
		logging.FromContext(r.Context()).Debug("webhook event ignored", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := h.Payments.HandleWebhookEvent(r.Context(), ev); err != nil {
		logging.FromContext(r.Context()).Error("webhook event failed", zap.String("event_id", ev.EventID()), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "error procesando el evento"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
