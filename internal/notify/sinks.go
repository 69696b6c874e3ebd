package notify

import (
	"context"
	"strconv"
	"time"

	kafkax "github.com/ariefcatur/go-realtime-checkout/internal/kafka"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Payload is the body of order notification events.
type Payload struct {
	OrderID    int64           `json:"order_id"`
	BusinessID int64           `json:"business_id"`
	UserID     *int64          `json:"user_id,omitempty"`
	GuestEmail string          `json:"guest_email,omitempty"`
	Status     orders.Status   `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Reason     string          `json:"reason,omitempty"`
	At         time.Time       `json:"at"`
}

func payloadOf(m Message) Payload {
	return Payload{
		OrderID:    m.Order.ID,
		BusinessID: m.Order.BusinessID,
		UserID:     m.Order.UserID,
		GuestEmail: m.Order.GuestEmail,
		Status:     m.Status,
		Total:      m.Order.Total,
		Reason:     m.Order.CancelReason,
		At:         m.At,
	}
}

// EnvelopeWriter is the blocking half of kafka.Producer.
type EnvelopeWriter interface {
	WriteEnvelope(ctx context.Context, env kafkax.Envelope) error
}

// KafkaSink publishes to orders.TopicNotifications keyed by order id, so
// the consumers that own email, SMS and WebSocket delivery see one ordered
// stream per order.
type KafkaSink struct {
	Writer  EnvelopeWriter
	Service string
	Timeout time.Duration
}

func (s *KafkaSink) Deliver(ctx context.Context, m Message) error {
	eventType := orders.EventOrderStatusChanged
	if m.Kind == KindNewOrder {
		eventType = orders.EventOrderCreated
	}
	env := kafkax.NewEnvelope(eventType, s.Service, strconv.FormatInt(m.Order.ID, 10), payloadOf(m))

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return s.Writer.WriteEnvelope(ctx, env)
}

// LogSink only logs. Used when no broker is configured.
type LogSink struct{ Log *zap.Logger }

func (s LogSink) Deliver(_ context.Context, m Message) error {
	s.Log.Info("order notification",
		zap.String("kind", string(m.Kind)),
		zap.Int64("order_id", m.Order.ID),
		zap.String("status", string(m.Status)),
	)
	return nil
}
