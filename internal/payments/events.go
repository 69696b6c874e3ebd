package payments

import (
	"context"

	"github.com/shopspring/decimal"
)

// Event is a verified gateway webhook. The set of kinds is closed: adding one
// means adding a method to EventHandler, which breaks every handler until it
// deals with the new kind.
type Event interface {
	EventID() string
	IntentID() string
	Accept(ctx context.Context, h EventHandler) error
}

type EventHandler interface {
	OnSucceeded(ctx context.Context, e Succeeded) error
	OnFailed(ctx context.Context, e Failed) error
	OnCanceled(ctx context.Context, e Canceled) error
	OnRefunded(ctx context.Context, e Refunded) error
}

// Succeeded is payment_intent.succeeded.
type Succeeded struct {
	ID     string
	Intent string
	Fee    *decimal.Decimal
	Net    *decimal.Decimal
	Card   CardMeta
}

// Failed is payment_intent.payment_failed.
type Failed struct {
	ID      string
	Intent  string
	Code    string
	Message string
}

// Canceled is payment_intent.canceled.
type Canceled struct {
	ID     string
	Intent string
}

// Refunded is charge.refunded.
type Refunded struct {
	ID             string
	Intent         string
	ChargeID       string
	AmountRefunded decimal.Decimal
}

func (e Succeeded) EventID() string  { return e.ID }
func (e Succeeded) IntentID() string { return e.Intent }
func (e Succeeded) Accept(ctx context.Context, h EventHandler) error {
	return h.OnSucceeded(ctx, e)
}

func (e Failed) EventID() string  { return e.ID }
func (e Failed) IntentID() string { return e.Intent }
func (e Failed) Accept(ctx context.Context, h EventHandler) error {
	return h.OnFailed(ctx, e)
}

func (e Canceled) EventID() string  { return e.ID }
func (e Canceled) IntentID() string { return e.Intent }
func (e Canceled) Accept(ctx context.Context, h EventHandler) error {
	return h.OnCanceled(ctx, e)
}

func (e Refunded) EventID() string  { return e.ID }
func (e Refunded) IntentID() string { return e.Intent }
func (e Refunded) Accept(ctx context.Context, h EventHandler) error {
	return h.OnRefunded(ctx, e)
}

// kindOf names an event for logs and spans.
func kindOf(e Event) string {
	switch e.(type) {
	case Succeeded:
		return "payment_intent.succeeded"
	case Failed:
		return "payment_intent.payment_failed"
	case Canceled:
		return "payment_intent.canceled"
	case Refunded:
		return "charge.refunded"
	}
	return "unknown"
}
