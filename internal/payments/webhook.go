package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-realtime-checkout/internal/logging"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HandleWebhookEvent applies a verified gateway event. Every handler is
// idempotent against redelivery and against Confirm. A transaction that is
// not found is logged and acknowledged; any other error is returned so the
// gateway retries the delivery.
func (s *Service) HandleWebhookEvent(ctx context.Context, e Event) (err error) {
	kind := kindOf(e)
	ctx, span := tracer.Start(ctx, "payments.webhook", trace.WithAttributes(
		attribute.String("event.id", e.EventID()),
		attribute.String("event.type", kind),
		attribute.String("intent.id", e.IntentID()),
	))
	defer func() { endSpan(span, err) }()

	log := logging.FromContext(ctx).With(
		zap.String("event_id", e.EventID()),
		zap.String("event_type", kind),
		zap.String("intent_id", e.IntentID()),
	)
	ctx = logging.WithLogger(ctx, log)

	if s.Dedup != nil && e.EventID() != "" {
		seen, err := s.Dedup.Seen(ctx, e.EventID())
		if err != nil {
			log.Warn("webhook dedup lookup failed", zap.Error(err))
		} else if seen {
			log.Info("webhook already processed")
			return nil
		}
	}

	err = e.Accept(ctx, webhookHandler{s})
	if errors.Is(err, ErrTransactionNotFound) {
		log.Warn("no transaction for webhook event")
		err = nil
	}
	if err != nil {
		log.Error("webhook processing failed", zap.Error(err))
		return err
	}

	if s.Dedup != nil && e.EventID() != "" {
		if err := s.Dedup.Mark(ctx, e.EventID()); err != nil {
			log.Warn("webhook dedup mark failed", zap.Error(err))
		}
	}
	log.Info("webhook processed")
	return nil
}

type webhookHandler struct{ s *Service }

func (h webhookHandler) OnSucceeded(ctx context.Context, e Succeeded) error {
	_, err := h.s.settle(ctx, e)
	return err
}

func (h webhookHandler) OnFailed(ctx context.Context, e Failed) error {
	code, msg := e.Code, e.Message
	if code == "" {
		code = "unknown"
	}
	if msg == "" {
		msg = "Payment failed"
	}
	return h.s.Tx.WithTx(ctx, func(ctx context.Context) error {
		t, err := h.s.Repo.GetByIntentForUpdate(ctx, e.Intent)
		if err != nil {
			return err
		}
		if !t.Status.Open() || t.ErrorCode == CodeDuplicate {
			return nil
		}
		if err := h.s.Repo.MarkFailed(ctx, t.ID, code, msg, h.s.now()); err != nil {
			return err
		}
		postgres.AfterCommit(ctx, func() {
			h.s.Metrics.Failed()
			logging.FromContext(ctx).Warn("payment failed",
				zap.Int64("order_id", t.OrderID),
				zap.String("error_code", code),
				zap.String("error_message", msg),
			)
		})
		return nil
	})
}

func (h webhookHandler) OnCanceled(ctx context.Context, e Canceled) error {
	return h.s.Tx.WithTx(ctx, func(ctx context.Context) error {
		t, err := h.s.Repo.GetByIntentForUpdate(ctx, e.Intent)
		if err != nil {
			return err
		}
		if !t.Status.Open() || t.ErrorCode == CodeDuplicate {
			return nil
		}
		if err := h.s.Repo.MarkCanceled(ctx, t.ID, h.s.now()); err != nil {
			return err
		}
		postgres.AfterCommit(ctx, func() {
			h.s.Metrics.Canceled()
			logging.FromContext(ctx).Info("payment canceled", zap.Int64("order_id", t.OrderID))
		})
		return nil
	})
}

// OnRefunded records the refund and cancels the order. A refund applies
// from any state since the gateway has already moved the money.
func (h webhookHandler) OnRefunded(ctx context.Context, e Refunded) error {
	return h.s.Tx.WithTx(ctx, func(ctx context.Context) error {
		t, err := h.s.Repo.GetByIntentForUpdate(ctx, e.Intent)
		if err != nil {
			return err
		}
		if t.Status == TxRefunded {
			return nil
		}
		note := fmt.Sprintf("Reembolso: %s %s", e.AmountRefunded.StringFixed(2), t.Currency)
		if err := h.s.Repo.MarkRefunded(ctx, t.ID, note, h.s.now()); err != nil {
			return err
		}
		// refunding a duplicate charge leaves the paid order alone
		if t.ErrorCode != CodeDuplicate {
			if err := h.s.transitionOrder(ctx, t.OrderID, orders.StatusCancelled, orders.ReasonRefunded); err != nil {
				return err
			}
		}
		postgres.AfterCommit(ctx, func() {
			h.s.Metrics.Refunded()
			logging.FromContext(ctx).Info("payment refunded",
				zap.Int64("order_id", t.OrderID),
				zap.String("charge_id", e.ChargeID),
				zap.Stringer("amount_refunded", e.AmountRefunded),
			)
		})
		return nil
	})
}
