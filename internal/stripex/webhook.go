package stripex

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-realtime-checkout/internal/apperr"
	"github.com/ariefcatur/go-realtime-checkout/internal/payments"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

var ErrBadSignature = apperr.Kind(apperr.ErrValidation, "firma de webhook inválida")

// ParseEvent verifies the Stripe-Signature header and maps the event onto
// payments.Event. Event types the service does not consume return an error
// matching payments.ErrIgnoredEvent.
func ParseEvent(payload []byte, signature, secret string) (payments.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return mapEvent(ev)
}

func mapEvent(ev stripe.Event) (payments.Event, error) {
	switch ev.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		pi, err := decode[stripe.PaymentIntent](ev)
		if err != nil {
			return nil, err
		}
		fee, net := balance(pi.LatestCharge)
		return payments.Succeeded{ID: ev.ID, Intent: pi.ID, Fee: fee, Net: net, Card: cardOf(pi.PaymentMethod)}, nil

	case stripe.EventTypePaymentIntentPaymentFailed:
		pi, err := decode[stripe.PaymentIntent](ev)
		if err != nil {
			return nil, err
		}
		out := payments.Failed{ID: ev.ID, Intent: pi.ID}
		if pi.LastPaymentError != nil {
			out.Code = string(pi.LastPaymentError.Code)
			out.Message = pi.LastPaymentError.Msg
		}
		return out, nil

	case stripe.EventTypePaymentIntentCanceled:
		pi, err := decode[stripe.PaymentIntent](ev)
		if err != nil {
			return nil, err
		}
		return payments.Canceled{ID: ev.ID, Intent: pi.ID}, nil

	case stripe.EventTypeChargeRefunded:
		ch, err := decode[stripe.Charge](ev)
		if err != nil {
			return nil, err
		}
		out := payments.Refunded{ID: ev.ID, ChargeID: ch.ID, AmountRefunded: payments.FromMinor(ch.AmountRefunded)}
		if ch.PaymentIntent != nil {
			out.Intent = ch.PaymentIntent.ID
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", payments.ErrIgnoredEvent, ev.Type)
}

func decode[T any](ev stripe.Event) (*T, error) {
	var v T
	if ev.Data == nil {
		return nil, apperr.Kind(apperr.ErrValidation, "evento sin datos")
	}
	if err := json.Unmarshal(ev.Data.Raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return &v, nil
}
