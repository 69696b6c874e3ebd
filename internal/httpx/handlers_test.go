package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/apperr"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/payments"
	"github.com/ariefcatur/go-realtime-checkout/internal/sales"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var secret = []byte("test-secret")

type fakeOrders struct {
	orders map[int64]orders.Order
	gets   int
}

func (f *fakeOrders) Create(_ context.Context, in orders.CreateInput) (orders.Order, error) {
	if len(in.Items) == 0 {
		return orders.Order{}, orders.ErrNoItems
	}
	o := orders.Order{ID: 10, BusinessID: in.BusinessID, Status: orders.StatusPending, Total: decimal.RequireFromString("150.00")}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeOrders) Get(_ context.Context, id int64) (orders.Order, error) {
	f.gets++
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) List(_ context.Context, _ orders.Filter) ([]orders.Order, error) {
	return nil, nil
}

func (f *fakeOrders) Transition(_ context.Context, id int64, target orders.Status, _ string) (orders.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	if !orders.CanTransition(o.Status, target) {
		return orders.Order{}, &orders.TransitionError{From: o.Status, To: target}
	}
	o.Status = target
	f.orders[id] = o
	return o, nil
}

type memStatus map[int64]orders.Status

func (m memStatus) Status(_ context.Context, id int64) (orders.Status, time.Time, bool, error) {
	s, ok := m[id]
	return s, time.Time{}, ok, nil
}

func (m memStatus) SetStatus(_ context.Context, id int64, s orders.Status, _ time.Time) error {
	m[id] = s
	return nil
}

type fakePayments struct {
	intentUser  int64
	confirmUser int64
	handled    []string
	handleErr  error
}

func (f *fakePayments) CreateIntent(_ context.Context, userID, orderID int64, _ map[string]string) (payments.IntentResult, error) {
	f.intentUser = userID
	if orderID != 1 {
		return payments.IntentResult{}, payments.ErrForbidden
	}
	return payments.IntentResult{IntentID: "pi_1", ClientSecret: "pi_1_secret", AmountMinor: 15000, Currency: "mxn"}, nil
}

func (f *fakePayments) Confirm(_ context.Context, userID int64, intentID string, _ payments.CardMeta) (payments.ConfirmResult, error) {
	f.confirmUser = userID
	if intentID != "pi_1" {
		return payments.ConfirmResult{}, payments.ErrForbidden
	}
	return payments.ConfirmResult{Status: payments.TxSucceeded}, nil
}

func (f *fakePayments) Refund(_ context.Context, _, orderID int64) (payments.RefundResult, error) {
	return payments.RefundResult{}, apperr.Gateway("refund", errors.New("card_declined"))
}

func (f *fakePayments) ListPaymentMethods(context.Context, int64) ([]payments.PaymentMethod, error) {
	return nil, nil
}

func (f *fakePayments) SavePaymentMethod(_ context.Context, _ int64, in payments.SaveMethodInput) (payments.PaymentMethod, error) {
	return payments.PaymentMethod{GatewayMethodID: in.GatewayMethodID}, nil
}

func (f *fakePayments) HandleWebhookEvent(_ context.Context, e payments.Event) error {
	if f.handleErr != nil {
		return f.handleErr
	}
	f.handled = append(f.handled, e.EventID())
	return nil
}

type fakeSales struct{}

func (fakeSales) Create(_ context.Context, in sales.CreateInput) (sales.Sale, error) {
	return sales.Sale{ID: 1, BusinessID: in.BusinessID, Status: sales.StatusPaid}, nil
}

func (fakeSales) Close(_ context.Context, id int64, _ *int64) (sales.Sale, error) {
	return sales.Sale{}, sales.ErrAlreadyClosed
}

func (fakeSales) Cancel(_ context.Context, id int64) (sales.Sale, error) {
	return sales.Sale{ID: id, Status: sales.StatusCancelled}, nil
}

func (fakeSales) Get(_ context.Context, id int64) (sales.Sale, error) {
	return sales.Sale{}, sales.ErrNotFound
}

func (fakeSales) List(_ context.Context, f sales.Filter) ([]sales.Sale, error) {
	if f.From == nil {
		return nil, errors.New("from not parsed")
	}
	return []sales.Sale{{ID: 1}}, nil
}

type fakeAdjuster struct{ qty int }

func (f *fakeAdjuster) Adjust(_ context.Context, _, _ int64, qty int, _ *int64) error {
	f.qty = qty
	return nil
}

func parseByHeader(payload []byte, signature string) (payments.Event, error) {
	switch signature {
	case "bad":
		return nil, apperr.Kind(apperr.ErrValidation, "firma de webhook inválida")
	case "ignored":
		return nil, fmt.Errorf("%w: customer.created", payments.ErrIgnoredEvent)
	}
	return payments.Succeeded{ID: string(payload), Intent: "pi_1"}, nil
}

type fixture struct {
	router   http.Handler
	orders   *fakeOrders
	payments *fakePayments
	cache    memStatus
	stock    *fakeAdjuster
	registry *prometheus.Registry
}

func newFixture() *fixture {
	f := &fixture{
		orders:   &fakeOrders{orders: map[int64]orders.Order{1: {ID: 1, Status: orders.StatusDelivered}}},
		payments: &fakePayments{},
		cache:    memStatus{},
		stock:    &fakeAdjuster{},
		registry: prometheus.NewRegistry(),
	}
	f.router = NewRouter(zap.NewNop(), f.registry,
		&OrdersHandler{Orders: f.orders, Cache: f.cache},
		&InventoryHandler{Stock: f.stock},
		&PaymentsHandler{
			Payments:   f.payments,
			Metrics:    payments.NewMetrics(nil),
			ParseEvent: parseByHeader,
			Auth:       Authenticator{Secret: secret},
		},
		&SalesHandler{Sales: fakeSales{}},
	)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, userID int64) map[string]string {
	t.Helper()
	tok, err := SignToken(secret, userID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestRoutes(t *testing.T) {
	f := newFixture()
	auth := bearer(t, 42)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header map[string]string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", "", nil, http.StatusOK},
		{"create order", http.MethodPost, "/orders", `{"business_id":1,"guest_email":"a@b.mx","items":[{"product_id":1,"qty":2}]}`, nil, http.StatusCreated},
		{"create order without items", http.MethodPost, "/orders", `{"business_id":1,"guest_email":"a@b.mx"}`, nil, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/orders", `{"business_id":`, nil, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/orders", `{"external_id":"x"}`, nil, http.StatusBadRequest},
		{"list orders", http.MethodGet, "/orders?business_id=1", "", nil, http.StatusOK},
		{"list orders bad filter", http.MethodGet, "/orders?business_id=abc", "", nil, http.StatusBadRequest},
		{"missing order", http.MethodGet, "/orders/99", "", nil, http.StatusNotFound},
		{"bad order id", http.MethodGet, "/orders/abc", "", nil, http.StatusBadRequest},
		{"invalid transition", http.MethodPatch, "/orders/1/status", `{"status":"pendiente"}`, nil, http.StatusConflict},
		{"adjust stock", http.MethodPut, "/inventory/1/2", `{"available":5}`, nil, http.StatusOK},
		{"adjust without quantity", http.MethodPut, "/inventory/1/2", `{}`, nil, http.StatusBadRequest},
		{"intent without token", http.MethodPost, "/payments/intents", `{"order_id":1}`, nil, http.StatusUnauthorized},
		{"intent with bad token", http.MethodPost, "/payments/intents", `{"order_id":1}`, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"intent", http.MethodPost, "/payments/intents", `{"order_id":1}`, auth, http.StatusCreated},
		{"intent for foreign order", http.MethodPost, "/payments/intents", `{"order_id":2}`, auth, http.StatusForbidden},
		{"confirm", http.MethodPost, "/payments/confirm", `{"payment_intent_id":"pi_1","last4":"4242"}`, auth, http.StatusOK},
		{"confirm without token", http.MethodPost, "/payments/confirm", `{"payment_intent_id":"pi_1"}`, nil, http.StatusUnauthorized},
		{"confirm foreign intent", http.MethodPost, "/payments/confirm", `{"payment_intent_id":"pi_9"}`, auth, http.StatusForbidden},
		{"refund gateway error", http.MethodPost, "/payments/orders/1/refund", "", auth, http.StatusBadGateway},
		{"list methods", http.MethodGet, "/payments/methods", "", auth, http.StatusOK},
		{"save method", http.MethodPost, "/payments/methods", `{"payment_method_id":"pm_1"}`, auth, http.StatusCreated},
		{"payment metrics", http.MethodGet, "/payments/metrics", "", auth, http.StatusOK},
		{"create sale", http.MethodPost, "/sales", `{"business_id":1,"items":[{"product_id":1,"qty":1}]}`, nil, http.StatusCreated},
		{"list sales", http.MethodGet, "/sales?from=2025-03-01T00:00:00Z", "", nil, http.StatusOK},
		{"list sales bad date", http.MethodGet, "/sales?from=ayer", "", nil, http.StatusBadRequest},
		{"missing sale", http.MethodGet, "/sales/5", "", nil, http.StatusNotFound},
		{"close closed sale", http.MethodPatch, "/sales/5/close", `{"payment_type_id":1}`, nil, http.StatusConflict},
		{"cancel sale", http.MethodPatch, "/sales/5/cancel", "", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body, tt.header)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	if f.payments.intentUser != 42 || f.payments.confirmUser != 42 {
		t.Fatalf("intent user = %d, confirm user = %d, want 42", f.payments.intentUser, f.payments.confirmUser)
	}
	if f.stock.qty != 5 {
		t.Fatalf("adjusted qty = %d", f.stock.qty)
	}
}

func TestErrorBodyHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(rec, req, errors.New("pq: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(body.Error, "connection refused") {
		t.Fatalf("internal detail leaked: %q", body.Error)
	}
}

func TestErrorBodyCarriesOnlyDomainMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/sales/5/close", nil)
	writeError(rec, req, fmt.Errorf("%w: venta 5", sales.ErrAlreadyClosed))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "la venta ya está cerrada: venta 5" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestOrderStatusUsesCache(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/orders/1/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var first statusResp
	_ = json.NewDecoder(rec.Body).Decode(&first)
	if first.Cached || first.Status != orders.StatusDelivered {
		t.Fatalf("first = %+v", first)
	}
	if f.cache[1] != orders.StatusDelivered {
		t.Fatalf("cache was not warmed")
	}

	gets := f.orders.gets
	rec = f.do(t, http.MethodGet, "/orders/1/status", "", nil)
	var second statusResp
	_ = json.NewDecoder(rec.Body).Decode(&second)
	if !second.Cached || f.orders.gets != gets {
		t.Fatalf("second read should come from cache: %+v", second)
	}
}

func TestWebhook(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		handleErr error
		want      int
		handled   int
	}{
		{"processed", "ok", nil, http.StatusOK, 1},
		{"ignored type", "ignored", nil, http.StatusOK, 0},
		{"bad signature", "bad", nil, http.StatusBadRequest, 0},
		{"processing failure", "ok", errors.New("db down"), http.StatusInternalServerError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.payments.handleErr = tt.handleErr

			rec := f.do(t, http.MethodPost, "/payments/webhook", "evt_1", map[string]string{"Stripe-Signature": tt.signature})
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(f.payments.handled) != tt.handled {
				t.Fatalf("handled = %v", f.payments.handled)
			}
		})
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	f := newFixture()
	body := bytes.Repeat([]byte("a"), int(maxWebhookBytes)+1)
	rec := f.do(t, http.MethodPost, "/payments/webhook", string(body), map[string]string{"Stripe-Signature": "ok"})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()
	f.do(t, http.MethodGet, "/healthz", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("missing request series:\n%s", rec.Body.String())
	}
}

func TestAuthenticatorRejectsOtherAlgorithms(t *testing.T) {
	a := Authenticator{Secret: secret}
	if _, err := a.parse("Bearer eyJhbGciOiJub25lIn0.eyJzdWIiOiI0MiJ9."); err == nil {
		t.Fatal("unsigned token accepted")
	}
	tok, _ := SignToken(secret, 7)
	id, err := a.parse("Bearer " + tok)
	if err != nil || id != 7 {
		t.Fatalf("parse = %d, %v", id, err)
	}
}
