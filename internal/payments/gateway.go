package payments

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the hosted payment provider. Calls must never be made while a
// database transaction is open.
type Gateway interface {
	CreateCustomer(ctx context.Context, u User) (string, error)
	CreateIntent(ctx context.Context, r IntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, id string) (Intent, error)
	ConfirmIntent(ctx context.Context, id string) (Intent, error)
	CreateRefund(ctx context.Context, intentID string) (string, error)
	AttachPaymentMethod(ctx context.Context, methodID, customerRef string) (PaymentMethod, error)
}

type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	CustomerRef    string
	IdempotencyKey string
	Metadata       map[string]string
}

type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountMinor  int64
	Card         CardMeta
	Fee          *decimal.Decimal
	Net          *decimal.Decimal
}

// Reusable reports whether a client can still complete payment on the intent.
func (i Intent) Reusable() bool {
	switch i.Status {
	case IntentRequiresPaymentMethod, IntentRequiresConfirmation, IntentRequiresAction, IntentProcessing:
		return true
	}
	return false
}
