package orders

import (
	"context"

	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-realtime-checkout/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Deduper remembers processed event ids.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// Sweeper cancels open orders whose product ran out of stock. It consumes
// the depletion topic.
type Sweeper struct {
	Orders *Service
	Dedup  Deduper
	Log    *zap.Logger
}

func (s *Sweeper) HandleDepleted(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		s.Log.Error("dropping undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != inventory.EventDepleted {
		return nil
	}

	if seen, err := s.Dedup.Seen(ctx, env.EventID); err != nil {
		s.Log.Warn("dedup lookup failed", zap.String("event_id", env.EventID), zap.Error(err))
	} else if seen {
		return nil
	}

	d, err := kafkax.UnwrapPayload[inventory.Depletion](env.Payload)
	if err != nil {
		s.Log.Error("dropping undecodable depletion", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	n, err := s.Orders.CancelOpenWithProduct(ctx, d.BusinessID, d.ProductID, ReasonOutOfStock)
	if err != nil {
		return err
	}
	if err := s.Dedup.Mark(ctx, env.EventID); err != nil {
		s.Log.Warn("dedup mark failed", zap.String("event_id", env.EventID), zap.Error(err))
	}

	s.Log.Info("stock sweep done",
		zap.String("event_id", env.EventID),
		zap.Int64("business_id", d.BusinessID),
		zap.Int64("product_id", d.ProductID),
		zap.Int("cancelled", n),
	)
	return nil
}
