package sales_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/ariefcatur/go-realtime-checkout/internal/sales"
	"github.com/ariefcatur/go-realtime-checkout/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type nopDepletion struct{}

func (nopDepletion) PublishDepleted(context.Context, inventory.Depletion) error { return nil }

func newSalesService(pool *pgxpool.Pool) *sales.Service {
	tx := &postgres.TxRunner{DB: pool}
	return &sales.Service{
		Tx:    tx,
		Repo:  &sales.Repo{DB: pool},
		Stock: &inventory.Guard{Tx: tx, Repo: &inventory.Repo{DB: pool}, Depletion: nopDepletion{}, Log: zap.NewNop()},
		Log:   zap.NewNop(),
	}
}

func TestConcurrentSalesOfLastUnit(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestPool(t)
	svc := newSalesService(pool)
	productID := testutil.InsertProduct(t, ctx, pool, "Pan de muerto", "35.00", 1, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(ctx, sales.CreateInput{
				BusinessID: 1,
				Items:      []inventory.Request{{ProductID: productID, Qty: 1}},
			})
		}(i)
	}
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, inventory.ErrInsufficientStock):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || refused != 1 {
		t.Fatalf("ok = %d, refused = %d", ok, refused)
	}
	if got := testutil.Available(t, ctx, pool, productID, 1); got != 0 {
		t.Fatalf("available = %d, want 0", got)
	}
}

func TestSaleLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewTestPool(t)
	svc := newSalesService(pool)
	productID := testutil.InsertProduct(t, ctx, pool, "Concha", "12.50", 1, 10)

	settle := false
	sale, err := svc.Create(ctx, sales.CreateInput{
		BusinessID: 1,
		Settle:     &settle,
		Items: []inventory.Request{
			{ProductID: productID, Qty: 1},
			{ProductID: productID, Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sale.Status != sales.StatusOpen || sale.Total.StringFixed(2) != "50.00" || len(sale.Items) != 1 {
		t.Fatalf("sale = %+v", sale)
	}
	if got := testutil.Available(t, ctx, pool, productID, 1); got != 6 {
		t.Fatalf("available = %d, want 6", got)
	}

	paymentType := int64(1)
	closed, err := svc.Close(ctx, sale.ID, &paymentType)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != sales.StatusPaid || closed.SettledAt == nil {
		t.Fatalf("closed = %+v", closed)
	}

	if _, err := svc.Cancel(ctx, sale.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Cancel(ctx, sale.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	stored, err := svc.Get(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != sales.StatusCancelled || stored.SettledAt != nil || len(stored.Items) != 0 {
		t.Fatalf("stored = %+v", stored)
	}
	// Voiding does not restock.
	if got := testutil.Available(t, ctx, pool, productID, 1); got != 6 {
		t.Fatalf("available = %d, want 6", got)
	}

	status := sales.StatusCancelled
	list, err := svc.List(ctx, sales.Filter{Status: &status})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != sale.ID {
		t.Fatalf("list = %+v", list)
	}
}
