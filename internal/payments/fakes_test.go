package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/shopspring/decimal"
)

type scopeTx struct{}

func (scopeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return postgres.Scope(ctx, fn)
}

type fakeRepo struct {
	mu      sync.Mutex
	txs     []Transaction
	users   map[int64]User
	methods []PaymentMethod
	failOn  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: map[int64]User{
		42: {ID: 42, Email: "ana@example.com", Name: "Ana"},
		43: {ID: 43, Email: "luis@example.com", Name: "Luis"},
	}}
}

func (f *fakeRepo) InsertTransaction(_ context.Context, t *Transaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.txs {
		if existing.IntentID == t.IntentID {
			*t = existing
			return false, nil
		}
	}
	t.ID = int64(len(f.txs) + 1)
	f.txs = append(f.txs, *t)
	return true, nil
}

func (f *fakeRepo) find(intentID string) (*Transaction, error) {
	if f.failOn != nil {
		return nil, f.failOn
	}
	for i := range f.txs {
		if f.txs[i].IntentID == intentID {
			return &f.txs[i], nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (f *fakeRepo) GetByIntent(_ context.Context, intentID string) (Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.find(intentID)
	if err != nil {
		return Transaction{}, err
	}
	return *t, nil
}

func (f *fakeRepo) GetByIntentForUpdate(ctx context.Context, intentID string) (Transaction, error) {
	return f.GetByIntent(ctx, intentID)
}

func (f *fakeRepo) LatestForOrder(_ context.Context, orderID int64, s TxStatus) (Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.txs) - 1; i >= 0; i-- {
		if f.txs[i].OrderID == orderID && f.txs[i].Status == s {
			return f.txs[i], nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (f *fakeRepo) HasSucceeded(ctx context.Context, orderID int64) (bool, error) {
	_, err := f.LatestForOrder(ctx, orderID, TxSucceeded)
	if errors.Is(err, ErrTransactionNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeRepo) LockOrder(context.Context, int64) error { return nil }

func (f *fakeRepo) CountForOrder(_ context.Context, orderID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.txs {
		if t.OrderID == orderID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) update(id int64, fn func(t *Transaction)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.txs {
		if f.txs[i].ID == id {
			fn(&f.txs[i])
			return nil
		}
	}
	return ErrTransactionNotFound
}

func (f *fakeRepo) MarkSucceeded(_ context.Context, id int64, fee, net *decimal.Decimal, card CardMeta, at time.Time) error {
	return f.update(id, func(t *Transaction) {
		t.Status, t.Fee, t.Net, t.Card, t.UpdatedAt = TxSucceeded, fee, net, card, at
	})
}

func (f *fakeRepo) MarkFailed(_ context.Context, id int64, code, msg string, at time.Time) error {
	return f.update(id, func(t *Transaction) {
		t.Status, t.ErrorCode, t.ErrorMessage, t.UpdatedAt = TxFailed, code, msg, at
	})
}

func (f *fakeRepo) MarkCanceled(_ context.Context, id int64, at time.Time) error {
	return f.update(id, func(t *Transaction) { t.Status, t.UpdatedAt = TxCanceled, at })
}

func (f *fakeRepo) MarkRefunded(_ context.Context, id int64, note string, at time.Time) error {
	return f.update(id, func(t *Transaction) { t.Status, t.ErrorMessage, t.UpdatedAt = TxRefunded, note, at })
}

func (f *fakeRepo) GetUser(_ context.Context, id int64) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeRepo) SetCustomerRef(_ context.Context, userID int64, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	if u.CustomerRef == "" {
		u.CustomerRef = ref
		f.users[userID] = u
	}
	return u.CustomerRef, nil
}

func (f *fakeRepo) ListMethods(_ context.Context, userID int64) ([]PaymentMethod, error) {
	var out []PaymentMethod
	for _, m := range f.methods {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertMethod(_ context.Context, m *PaymentMethod) error {
	m.ID = int64(len(f.methods) + 1)
	f.methods = append(f.methods, *m)
	return nil
}

func (f *fakeRepo) tx(intentID string) Transaction {
	t, _ := f.GetByIntent(context.Background(), intentID)
	return t
}

type fakeOrders struct {
	mu          sync.Mutex
	orders      map[int64]orders.Order
	transitions []orders.Status
}

func newFakeOrders() *fakeOrders {
	uid := int64(42)
	return &fakeOrders{orders: map[int64]orders.Order{
		1: {ID: 1, BusinessID: 7, UserID: &uid, Status: orders.StatusPending, Total: decimal.RequireFromString("150.00")},
	}}
}

func (f *fakeOrders) Get(_ context.Context, id int64) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) Transition(_ context.Context, id int64, target orders.Status, reason string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	if o.Status == target {
		return o, nil
	}
	if !orders.CanTransition(o.Status, target) {
		return orders.Order{}, &orders.TransitionError{From: o.Status, To: target}
	}
	o.Status = target
	o.CancelReason = reason
	f.orders[id] = o
	f.transitions = append(f.transitions, target)
	return o, nil
}

func (f *fakeOrders) status(id int64) orders.Status {
	o, _ := f.Get(context.Background(), id)
	return o.Status
}

type fakeGateway struct {
	mu        sync.Mutex
	intents   map[string]Intent
	byKey     map[string]string
	created   int
	customers int
	refunds   []string
	confirmed []string
	err       error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]Intent{}, byKey: map[string]string{}}
}

func (g *fakeGateway) CreateCustomer(_ context.Context, u User) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers++
	return fmt.Sprintf("cus_%d", u.ID), nil
}

func (g *fakeGateway) CreateIntent(_ context.Context, r IntentRequest) (Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return Intent{}, g.err
	}
	if id, ok := g.byKey[r.IdempotencyKey]; ok {
		return g.intents[id], nil
	}
	g.created++
	in := Intent{
		ID:           fmt.Sprintf("pi_%d", g.created),
		ClientSecret: fmt.Sprintf("pi_%d_secret", g.created),
		Status:       IntentRequiresPaymentMethod,
		AmountMinor:  r.AmountMinor,
	}
	g.intents[in.ID] = in
	g.byKey[r.IdempotencyKey] = in.ID
	return in, nil
}

func (g *fakeGateway) RetrieveIntent(_ context.Context, id string) (Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return Intent{}, g.err
	}
	in, ok := g.intents[id]
	if !ok {
		return Intent{}, errors.New("no such intent")
	}
	return in, nil
}

func (g *fakeGateway) ConfirmIntent(_ context.Context, id string) (Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in := g.intents[id]
	in.Status = IntentSucceeded
	g.intents[id] = in
	g.confirmed = append(g.confirmed, id)
	return in, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, intentID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.refunds = append(g.refunds, intentID)
	return "re_" + intentID, nil
}

func (g *fakeGateway) AttachPaymentMethod(_ context.Context, methodID, _ string) (PaymentMethod, error) {
	return PaymentMethod{Kind: "card", Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}, nil
}

func (g *fakeGateway) setStatus(id string, s IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in := g.intents[id]
	in.Status = s
	g.intents[id] = in
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memDedup) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[id], nil
}

func (m *memDedup) Mark(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = true
	return nil
}
