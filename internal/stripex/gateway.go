// Package stripex adapts Stripe to the payments gateway contract.
package stripex

import (
	"context"
	"strconv"

	"github.com/ariefcatur/go-realtime-checkout/internal/payments"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

type Gateway struct {
	sc *client.API
}

func New(secretKey string) *Gateway {
	return &Gateway{sc: client.New(secretKey, nil)}
}

func (g *Gateway) CreateCustomer(ctx context.Context, u payments.User) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(u.Email),
		Name:  stripe.String(u.Name),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatInt(u.ID, 10))
	params.SetIdempotencyKey("usuario_" + strconv.FormatInt(u.ID, 10))

	c, err := g.sc.Customers.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (g *Gateway) CreateIntent(ctx context.Context, r payments.IntentRequest) (payments.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(r.AmountMinor),
		Currency: stripe.String(r.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if r.CustomerRef != "" {
		params.Customer = stripe.String(r.CustomerRef)
	}
	for k, v := range r.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(r.IdempotencyKey)

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return payments.Intent{}, err
	}
	return toIntent(pi), nil
}

func (g *Gateway) RetrieveIntent(ctx context.Context, id string) (payments.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge.balance_transaction")
	params.AddExpand("payment_method")

	pi, err := g.sc.PaymentIntents.Get(id, params)
	if err != nil {
		return payments.Intent{}, err
	}
	return toIntent(pi), nil
}

func (g *Gateway) ConfirmIntent(ctx context.Context, id string) (payments.Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	params.AddExpand("latest_charge.balance_transaction")
	params.AddExpand("payment_method")

	pi, err := g.sc.PaymentIntents.Confirm(id, params)
	if err != nil {
		return payments.Intent{}, err
	}
	return toIntent(pi), nil
}

func (g *Gateway) CreateRefund(ctx context.Context, intentID string) (string, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	params.SetIdempotencyKey("reembolso_" + intentID)

	r, err := g.sc.Refunds.New(params)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (g *Gateway) AttachPaymentMethod(ctx context.Context, methodID, customerRef string) (payments.PaymentMethod, error) {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerRef)}
	params.Context = ctx

	pm, err := g.sc.PaymentMethods.Attach(methodID, params)
	if err != nil {
		return payments.PaymentMethod{}, err
	}
	out := payments.PaymentMethod{
		GatewayMethodID: pm.ID,
		CustomerRef:     customerRef,
		Kind:            string(pm.Type),
	}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = int(pm.Card.ExpMonth)
		out.ExpYear = int(pm.Card.ExpYear)
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) payments.Intent {
	in := payments.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       payments.IntentStatus(pi.Status),
		AmountMinor:  pi.Amount,
	}
	in.Fee, in.Net = balance(pi.LatestCharge)
	in.Card = cardOf(pi.PaymentMethod)
	return in
}

// balance returns the gateway fee and net amount when the charge's balance
// transaction was expanded.
func balance(ch *stripe.Charge) (fee, net *decimal.Decimal) {
	if ch == nil || ch.BalanceTransaction == nil {
		return nil, nil
	}
	bt := ch.BalanceTransaction
	if bt.Fee == 0 && bt.Net == 0 {
		return nil, nil
	}
	f := payments.FromMinor(bt.Fee)
	n := payments.FromMinor(bt.Net)
	return &f, &n
}

func cardOf(pm *stripe.PaymentMethod) payments.CardMeta {
	if pm == nil || pm.Card == nil {
		return payments.CardMeta{}
	}
	return payments.CardMeta{
		Last4: pm.Card.Last4,
		Brand: string(pm.Card.Brand),
		Type:  string(pm.Card.Funding),
	}
}
