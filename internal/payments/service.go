package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/apperr"
	"github.com/ariefcatur/go-realtime-checkout/internal/logging"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Repository interface {
	InsertTransaction(ctx context.Context, t *Transaction) (bool, error)
	GetByIntent(ctx context.Context, intentID string) (Transaction, error)
	GetByIntentForUpdate(ctx context.Context, intentID string) (Transaction, error)
	LatestForOrder(ctx context.Context, orderID int64, s TxStatus) (Transaction, error)
	HasSucceeded(ctx context.Context, orderID int64) (bool, error)
	LockOrder(ctx context.Context, orderID int64) error
	CountForOrder(ctx context.Context, orderID int64) (int, error)
	MarkSucceeded(ctx context.Context, id int64, fee, net *decimal.Decimal, card CardMeta, at time.Time) error
	MarkFailed(ctx context.Context, id int64, code, msg string, at time.Time) error
	MarkCanceled(ctx context.Context, id int64, at time.Time) error
	MarkRefunded(ctx context.Context, id int64, note string, at time.Time) error

	GetUser(ctx context.Context, id int64) (User, error)
	SetCustomerRef(ctx context.Context, userID int64, ref string) (string, error)
	ListMethods(ctx context.Context, userID int64) ([]PaymentMethod, error)
	InsertMethod(ctx context.Context, m *PaymentMethod) error
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Orders is the order state machine as seen from payments. Transition
// notifies the customer after commit.
type Orders interface {
	Get(ctx context.Context, id int64) (orders.Order, error)
	Transition(ctx context.Context, id int64, target orders.Status, reason string) (orders.Order, error)
}

// Deduper short-circuits webhook redeliveries. The transaction row stays the
// authority; a lost mark only costs a redundant state check.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

type Service struct {
	Tx        TxRunner
	Repo      Repository
	Orders    Orders
	Gateway   Gateway
	Metrics   Reporter
	Dedup     Deduper
	Currency  string
	MaxAmount decimal.Decimal
	Log       *zap.Logger
	Now       func() time.Time
}

var tracer = otel.Tracer("github.com/ariefcatur/go-realtime-checkout/internal/payments")

// IdempotencyKey is derived from the order and attempt only, so a retried
// request for the same attempt collapses onto one gateway charge.
func IdempotencyKey(orderID int64, attempt int) string {
	return fmt.Sprintf("pedido_%d_intento_%d", orderID, attempt)
}

// CreateIntent opens a gateway payment intent for the user's order. An
// intent still awaiting payment is returned instead of creating another.
func (s *Service) CreateIntent(ctx context.Context, userID, orderID int64, metadata map[string]string) (res IntentResult, err error) {
	ctx, span := tracer.Start(ctx, "payments.create_intent", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("user.id", userID),
	))
	defer func() { endSpan(span, err) }()
	log := logging.FromContext(ctx)

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return IntentResult{}, err
	}
	if !o.OwnedBy(userID) {
		log.Warn("payment attempt on foreign order", zap.Int64("user_id", userID), zap.Int64("order_id", orderID))
		return IntentResult{}, ErrForbidden
	}
	if !o.Total.IsPositive() || (s.MaxAmount.IsPositive() && o.Total.GreaterThan(s.MaxAmount)) {
		return IntentResult{}, fmt.Errorf("%w: %s fuera de rango (0, %s]", ErrInvalidAmount, o.Total, s.MaxAmount)
	}
	if o.Status == orders.StatusCancelled {
		return IntentResult{}, ErrOrderCancelled
	}
	paid, err := s.Repo.HasSucceeded(ctx, orderID)
	if err != nil {
		return IntentResult{}, err
	}
	if paid {
		return IntentResult{}, ErrAlreadyPaid
	}

	if res, ok, err := s.reusePending(ctx, orderID); err != nil || ok {
		return res, err
	}

	u, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		return IntentResult{}, err
	}
	customer, err := s.ensureCustomer(ctx, u)
	if err != nil {
		return IntentResult{}, err
	}

	prior, err := s.Repo.CountForOrder(ctx, orderID)
	if err != nil {
		return IntentResult{}, err
	}
	attempt := prior + 1
	key := IdempotencyKey(orderID, attempt)

	meta := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["pedido_id"] = strconv.FormatInt(orderID, 10)
	meta["user_id"] = strconv.FormatInt(userID, 10)

	amount := MinorUnits(o.Total)
	intent, err := s.Gateway.CreateIntent(ctx, IntentRequest{
		AmountMinor:    amount,
		Currency:       s.Currency,
		CustomerRef:    customer,
		IdempotencyKey: key,
		Metadata:       meta,
	})
	if err != nil {
		return IntentResult{}, apperr.Gateway("create intent", err)
	}

	t := Transaction{
		OrderID:        orderID,
		IntentID:       intent.ID,
		CustomerRef:    customer,
		Status:         TxPending,
		Amount:         o.Total,
		Currency:       s.Currency,
		IdempotencyKey: key,
		Attempt:        attempt,
		Metadata:       meta,
	}
	created, err := s.Repo.InsertTransaction(ctx, &t)
	if err != nil {
		return IntentResult{}, err
	}
	if created {
		s.Metrics.IntentCreated()
	}

	log.Info("payment intent created",
		zap.String("intent_id", intent.ID),
		zap.Int64("transaction_id", t.ID),
		zap.Int64("order_id", orderID),
		zap.Int64("amount_minor", amount),
		zap.String("idempotency_key", key),
		zap.Bool("new_transaction", created),
	)
	return IntentResult{
		ClientSecret:  intent.ClientSecret,
		IntentID:      intent.ID,
		TransactionID: t.ID,
		AmountMinor:   amount,
		Currency:      s.Currency,
		Reused:        !created,
	}, nil
}

func (s *Service) reusePending(ctx context.Context, orderID int64) (IntentResult, bool, error) {
	t, err := s.Repo.LatestForOrder(ctx, orderID, TxPending)
	if errors.Is(err, ErrTransactionNotFound) {
		return IntentResult{}, false, nil
	}
	if err != nil {
		return IntentResult{}, false, err
	}
	intent, err := s.Gateway.RetrieveIntent(ctx, t.IntentID)
	if err != nil {
		return IntentResult{}, false, apperr.Gateway("retrieve intent", err)
	}
	switch intent.Status {
	case IntentSucceeded:
		// paid before the webhook arrived
		if _, err := s.settle(ctx, Succeeded{Intent: t.IntentID, Fee: intent.Fee, Net: intent.Net, Card: intent.Card}); err != nil {
			return IntentResult{}, false, err
		}
		return IntentResult{}, false, ErrAlreadyPaid
	case IntentProcessing:
		return IntentResult{}, false, ErrPaymentInProgress
	}
	if !intent.Reusable() {
		return IntentResult{}, false, nil
	}
	logging.FromContext(ctx).Info("reusing pending payment intent",
		zap.String("intent_id", t.IntentID),
		zap.Int64("order_id", orderID),
	)
	return IntentResult{
		ClientSecret:  intent.ClientSecret,
		IntentID:      t.IntentID,
		TransactionID: t.ID,
		AmountMinor:   MinorUnits(t.Amount),
		Currency:      t.Currency,
		Reused:        true,
	}, true, nil
}

func (s *Service) ensureCustomer(ctx context.Context, u User) (string, error) {
	if u.CustomerRef != "" {
		return u.CustomerRef, nil
	}
	ref, err := s.Gateway.CreateCustomer(ctx, u)
	if err != nil {
		return "", apperr.Gateway("create customer", err)
	}
	return s.Repo.SetCustomerRef(ctx, u.ID, ref)
}

// Confirm settles a transaction without waiting for the webhook. Whichever of
// Confirm and the succeeded webhook commits first wins; the other sees the
// settled row and does nothing. Only an intent the gateway reports as
// succeeded is settled.
func (s *Service) Confirm(ctx context.Context, userID int64, intentID string, card CardMeta) (res ConfirmResult, err error) {
	ctx, span := tracer.Start(ctx, "payments.confirm", trace.WithAttributes(
		attribute.String("intent.id", intentID),
		attribute.Int64("user.id", userID),
	))
	defer func() { endSpan(span, err) }()

	t, err := s.Repo.GetByIntent(ctx, intentID)
	if err != nil {
		return ConfirmResult{}, err
	}
	o, err := s.Orders.Get(ctx, t.OrderID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if !o.OwnedBy(userID) {
		logging.FromContext(ctx).Warn("confirm attempt on foreign order",
			zap.Int64("user_id", userID),
			zap.Int64("order_id", t.OrderID),
		)
		return ConfirmResult{}, ErrForbidden
	}
	if t.Status == TxSucceeded || t.Status == TxRefunded {
		return ConfirmResult{OrderID: t.OrderID, TransactionID: t.ID, Status: t.Status, AlreadySettled: true}, nil
	}

	intent, err := s.Gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return ConfirmResult{}, apperr.Gateway("retrieve intent", err)
	}
	if intent.Status == IntentRequiresConfirmation {
		if intent, err = s.Gateway.ConfirmIntent(ctx, intentID); err != nil {
			return ConfirmResult{}, apperr.Gateway("confirm intent", err)
		}
	}
	if intent.Status != IntentSucceeded {
		return ConfirmResult{}, fmt.Errorf("%w (estado %s)", ErrNotPaid, intent.Status)
	}
	if card.Empty() {
		card = intent.Card
	}

	settled, err := s.settle(ctx, Succeeded{Intent: intentID, Fee: intent.Fee, Net: intent.Net, Card: card})
	if err != nil {
		return ConfirmResult{}, err
	}
	if settled.duplicate {
		return ConfirmResult{}, ErrAlreadyPaid
	}
	return ConfirmResult{
		OrderID:        settled.OrderID,
		TransactionID:  settled.ID,
		Status:         settled.Status,
		AlreadySettled: !settled.changed,
	}, nil
}

type settleResult struct {
	Transaction
	changed   bool
	duplicate bool
}

// settle marks the transaction succeeded and confirms its order in one unit
// of work. Metrics are counted after commit, once per transaction. The order
// row is locked so at most one transaction per order ends up succeeded; a
// later success is recorded as a duplicate and refunded.
func (s *Service) settle(ctx context.Context, e Succeeded) (settleResult, error) {
	var res settleResult
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.Repo.GetByIntentForUpdate(ctx, e.Intent)
		if err != nil {
			return err
		}
		res.Transaction = t
		if t.Status == TxSucceeded || t.Status == TxRefunded || t.ErrorCode == CodeDuplicate {
			res.duplicate = t.ErrorCode == CodeDuplicate
			return nil
		}

		if err := s.Repo.LockOrder(ctx, t.OrderID); err != nil {
			return err
		}
		paid, err := s.Repo.HasSucceeded(ctx, t.OrderID)
		if err != nil {
			return err
		}
		if paid {
			return s.recordDuplicate(ctx, t, &res)
		}

		if err := s.Repo.MarkSucceeded(ctx, t.ID, e.Fee, e.Net, e.Card, s.now()); err != nil {
			return err
		}
		res.Status = TxSucceeded
		res.changed = true

		if err := s.transitionOrder(ctx, t.OrderID, orders.StatusConfirmed, ""); err != nil {
			return err
		}

		amount := t.Amount
		postgres.AfterCommit(ctx, func() {
			s.Metrics.Succeeded(amount)
			logging.FromContext(ctx).Info("payment succeeded",
				zap.Int64("order_id", t.OrderID),
				zap.Int64("transaction_id", t.ID),
				zap.String("intent_id", t.IntentID),
				zap.Stringer("amount", amount),
				zap.String("currency", t.Currency),
			)
		})
		return nil
	})
	return res, err
}

// recordDuplicate fails t with CodeDuplicate and refunds the charge once the
// transaction commits.
func (s *Service) recordDuplicate(ctx context.Context, t Transaction, res *settleResult) error {
	if err := s.Repo.MarkFailed(ctx, t.ID, CodeDuplicate, "el pedido ya tenía un pago exitoso", s.now()); err != nil {
		return err
	}
	res.Status = TxFailed
	res.duplicate = true
	postgres.AfterCommit(ctx, func() {
		log := logging.FromContext(ctx).With(
			zap.Int64("order_id", t.OrderID),
			zap.Int64("transaction_id", t.ID),
			zap.String("intent_id", t.IntentID),
		)
		log.Error("duplicate payment for paid order")
		refundID, err := s.Gateway.CreateRefund(context.WithoutCancel(ctx), t.IntentID)
		if err != nil {
			log.Error("refund duplicate payment", zap.Error(err))
			return
		}
		log.Info("duplicate payment refunded", zap.String("refund_id", refundID))
	})
	return nil
}

// transitionOrder moves the order, tolerating orders that already left the
// states the move applies to. The payment state is recorded either way.
func (s *Service) transitionOrder(ctx context.Context, orderID int64, target orders.Status, reason string) error {
	_, err := s.Orders.Transition(ctx, orderID, target, reason)
	if errors.Is(err, orders.ErrInvalidTransition) {
		logging.FromContext(ctx).Warn("order not moved after payment event",
			zap.Int64("order_id", orderID),
			zap.String("target", string(target)),
			zap.Error(err),
		)
		return nil
	}
	return err
}

// Refund asks the gateway to refund the order's succeeded payment. Local
// state follows when the charge.refunded webhook arrives.
func (s *Service) Refund(ctx context.Context, userID, orderID int64) (res RefundResult, err error) {
	ctx, span := tracer.Start(ctx, "payments.refund", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return RefundResult{}, err
	}
	if !o.OwnedBy(userID) {
		return RefundResult{}, ErrForbidden
	}
	t, err := s.Repo.LatestForOrder(ctx, orderID, TxSucceeded)
	if errors.Is(err, ErrTransactionNotFound) {
		return RefundResult{}, ErrNothingToRefund
	}
	if err != nil {
		return RefundResult{}, err
	}

	refundID, err := s.Gateway.CreateRefund(ctx, t.IntentID)
	if err != nil {
		return RefundResult{}, apperr.Gateway("create refund", err)
	}
	logging.FromContext(ctx).Info("refund requested",
		zap.Int64("order_id", orderID),
		zap.String("intent_id", t.IntentID),
		zap.String("refund_id", refundID),
	)
	return RefundResult{RefundID: refundID, IntentID: t.IntentID, OrderID: orderID}, nil
}

func (s *Service) ListPaymentMethods(ctx context.Context, userID int64) ([]PaymentMethod, error) {
	u, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.CustomerRef == "" {
		return []PaymentMethod{}, nil
	}
	return s.Repo.ListMethods(ctx, userID)
}

type SaveMethodInput struct {
	GatewayMethodID string `json:"payment_method_id"`
	Kind            string `json:"kind"`
	Brand           string `json:"brand"`
	Last4           string `json:"last4"`
	ExpMonth        int    `json:"exp_month"`
	ExpYear         int    `json:"exp_year"`
	IsDefault       bool   `json:"is_default"`
}

// SavePaymentMethod attaches a tokenized method to the user's gateway
// customer and stores it. Card details reported by the gateway win over the
// ones sent by the client.
func (s *Service) SavePaymentMethod(ctx context.Context, userID int64, in SaveMethodInput) (PaymentMethod, error) {
	if in.GatewayMethodID == "" {
		return PaymentMethod{}, ErrInvalidMethod
	}
	u, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		return PaymentMethod{}, err
	}
	customer, err := s.ensureCustomer(ctx, u)
	if err != nil {
		return PaymentMethod{}, err
	}
	attached, err := s.Gateway.AttachPaymentMethod(ctx, in.GatewayMethodID, customer)
	if err != nil {
		return PaymentMethod{}, apperr.Gateway("attach payment method", err)
	}

	m := PaymentMethod{
		UserID:          userID,
		GatewayMethodID: in.GatewayMethodID,
		CustomerRef:     customer,
		Kind:            firstNonEmpty(attached.Kind, in.Kind, "card"),
		Brand:           firstNonEmpty(attached.Brand, in.Brand),
		Last4:           firstNonEmpty(attached.Last4, in.Last4),
		ExpMonth:        firstNonZero(attached.ExpMonth, in.ExpMonth),
		ExpYear:         firstNonZero(attached.ExpYear, in.ExpYear),
		IsDefault:       in.IsDefault,
	}
	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		return s.Repo.InsertMethod(ctx, &m)
	})
	if err != nil {
		return PaymentMethod{}, err
	}
	logging.FromContext(ctx).Info("payment method saved", zap.Int64("user_id", userID), zap.Int64("method_id", m.ID))
	return m, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(vs ...int) int {
	for _, v := range vs {
		if v != 0 {
			return v
		}
	}
	return 0
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
