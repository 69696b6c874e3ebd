package inventory

import (
	"context"
	"strconv"

	kafkax "github.com/ariefcatur/go-realtime-checkout/internal/kafka"
)

const (
	TopicDepleted = "inventory.depleted"
	EventDepleted = "InventoryDepleted"
)

// EnvelopePublisher queues an envelope without waiting for the brokers.
type EnvelopePublisher interface {
	PublishEnvelope(env kafkax.Envelope)
}

// KafkaDepletion publishes depletions keyed by product so the sweep for one
// product is processed in order. Publishing is queued: the request that
// emptied the stock does not wait on Kafka, and a full queue drops the event.
type KafkaDepletion struct {
	Producer EnvelopePublisher
	Service  string
}

func (k *KafkaDepletion) PublishDepleted(_ context.Context, d Depletion) error {
	k.Producer.PublishEnvelope(kafkax.NewEnvelope(EventDepleted, k.Service, strconv.FormatInt(d.ProductID, 10), d))
	return nil
}
