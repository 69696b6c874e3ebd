package payments

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/ariefcatur/go-realtime-checkout/internal/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type nopNotifier struct{}

func (nopNotifier) NotifyNewOrder(context.Context, orders.Order)                        {}
func (nopNotifier) NotifyOrderStatusChange(context.Context, orders.Order, orders.Status) {}

func TestPaymentLifecycleAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestPool(t)

	userID := testutil.InsertUser(t, ctx, pool, "ana@example.com")
	productID := testutil.InsertProduct(t, ctx, pool, "Tamal", "75.00", 1, 5)

	tx := &postgres.TxRunner{DB: pool}
	orderSvc := &orders.Service{
		Tx:       tx,
		Repo:     &orders.Repo{DB: pool},
		Stock:    &inventory.Guard{Tx: tx, Repo: &inventory.Repo{DB: pool}, Log: zap.NewNop()},
		Notifier: nopNotifier{},
		Log:      zap.NewNop(),
	}
	o, err := orderSvc.Create(ctx, orders.CreateInput{
		BusinessID: 1,
		UserID:     &userID,
		Items:      []inventory.Request{{ProductID: productID, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	repo := &Repo{DB: pool}
	metrics := NewMetrics(nil)
	svc := &Service{
		Tx:        tx,
		Repo:      repo,
		Orders:    orderSvc,
		Gateway:   newFakeGateway(),
		Metrics:   metrics,
		Currency:  "mxn",
		MaxAmount: decimal.RequireFromString("999999"),
		Log:       zap.NewNop(),
	}

	res, err := svc.CreateIntent(ctx, userID, o.ID, map[string]string{"canal": "app"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if res.AmountMinor != 15000 {
		t.Fatalf("amount = %d", res.AmountMinor)
	}

	for i := 0; i < 2; i++ {
		if err := svc.HandleWebhookEvent(ctx, Succeeded{ID: "evt_ok", Intent: res.IntentID}); err != nil {
			t.Fatalf("succeeded webhook: %v", err)
		}
	}
	stored, err := repo.GetByIntent(ctx, res.IntentID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if stored.Status != TxSucceeded || stored.Metadata["canal"] != "app" || stored.IdempotencyKey != "pedido_1_intento_1" {
		t.Fatalf("transaction = %+v", stored)
	}
	got, _ := orderSvc.Get(ctx, o.ID)
	if got.Status != orders.StatusConfirmed || got.ConfirmedAt == nil {
		t.Fatalf("order = %+v", got)
	}
	if metrics.Snapshot().Succeeded != 1 {
		t.Fatalf("succeeded = %d", metrics.Snapshot().Succeeded)
	}

	if _, err := svc.CreateIntent(ctx, userID, o.ID, nil); err == nil {
		t.Fatal("second intent on a paid order must fail")
	}

	if err := svc.HandleWebhookEvent(ctx, Refunded{ID: "evt_rf", Intent: res.IntentID, AmountRefunded: decimal.RequireFromString("150")}); err != nil {
		t.Fatalf("refund webhook: %v", err)
	}
	stored, _ = repo.GetByIntent(ctx, res.IntentID)
	got, _ = orderSvc.Get(ctx, o.ID)
	if stored.Status != TxRefunded || got.Status != orders.StatusCancelled || got.CancelReason != orders.ReasonRefunded {
		t.Fatalf("after refund: tx %s, order %s (%q)", stored.Status, got.Status, got.CancelReason)
	}
}

func TestOneSucceededTransactionPerOrder(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestPool(t)

	userID := testutil.InsertUser(t, ctx, pool, "luis@example.com")
	productID := testutil.InsertProduct(t, ctx, pool, "Atole", "30.00", 1, 5)
	tx := &postgres.TxRunner{DB: pool}
	orderSvc := &orders.Service{
		Tx:       tx,
		Repo:     &orders.Repo{DB: pool},
		Stock:    &inventory.Guard{Tx: tx, Repo: &inventory.Repo{DB: pool}, Log: zap.NewNop()},
		Notifier: nopNotifier{},
		Log:      zap.NewNop(),
	}
	o, err := orderSvc.Create(ctx, orders.CreateInput{
		BusinessID: 1,
		UserID:     &userID,
		Items:      []inventory.Request{{ProductID: productID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	repo := &Repo{DB: pool}
	var ids []int64
	for i, intent := range []string{"pi_a", "pi_b"} {
		row := Transaction{OrderID: o.ID, IntentID: intent, Status: TxPending, Amount: o.Total,
			Currency: "mxn", IdempotencyKey: IdempotencyKey(o.ID, i+1), Attempt: i + 1}
		if _, err := repo.InsertTransaction(ctx, &row); err != nil {
			t.Fatalf("insert %s: %v", intent, err)
		}
		ids = append(ids, row.ID)
	}
	if err := repo.MarkSucceeded(ctx, ids[0], nil, nil, CardMeta{}, o.CreatedAt); err != nil {
		t.Fatalf("first success: %v", err)
	}
	if err := repo.MarkSucceeded(ctx, ids[1], nil, nil, CardMeta{}, o.CreatedAt); err == nil {
		t.Fatal("second succeeded transaction accepted for one order")
	}
	if err := tx.WithTx(ctx, func(ctx context.Context) error { return repo.LockOrder(ctx, o.ID) }); err != nil {
		t.Fatalf("lock order: %v", err)
	}
}
