package inventory

import (
	"context"
	"testing"
	"time"

	kafkax "github.com/ariefcatur/go-realtime-checkout/internal/kafka"
)

type queuedEnvelopes []kafkax.Envelope

func (q *queuedEnvelopes) PublishEnvelope(env kafkax.Envelope) { *q = append(*q, env) }

func TestKafkaDepletionEnvelope(t *testing.T) {
	var q queuedEnvelopes
	k := &KafkaDepletion{Producer: &q, Service: "checkout-api"}

	d := Depletion{BusinessID: 1, ProductID: 77, Before: 2, After: 0, At: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	if err := k.PublishDepleted(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q) != 1 {
		t.Fatalf("queued = %d", len(q))
	}
	env := q[0]
	if env.EventType != EventDepleted || env.CorrelationID != "77" || env.Producer != "checkout-api" {
		t.Fatalf("envelope = %+v", env)
	}
	got, err := kafkax.UnwrapPayload[Depletion](env.Payload)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if got.ProductID != 77 || got.Before != 2 || got.After != 0 || !got.At.Equal(d.At) {
		t.Fatalf("payload = %+v", got)
	}
}
