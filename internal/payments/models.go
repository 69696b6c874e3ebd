package payments

import (
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = apperr.Kind(apperr.ErrNotFound, "transacción no encontrada")
	ErrUserNotFound        = apperr.Kind(apperr.ErrNotFound, "usuario no encontrado")
	ErrForbidden           = apperr.Kind(apperr.ErrForbidden, "el pedido no pertenece al usuario actual")
	ErrInvalidAmount       = apperr.Kind(apperr.ErrValidation, "monto inválido")
	ErrInvalidMethod       = apperr.Kind(apperr.ErrValidation, "método de pago inválido")
	ErrOrderCancelled      = apperr.Kind(apperr.ErrConflict, "no se puede procesar pago para un pedido cancelado")
	ErrAlreadyPaid         = apperr.Kind(apperr.ErrConflict, "este pedido ya ha sido pagado")
	ErrNothingToRefund     = apperr.Kind(apperr.ErrConflict, "el pedido no tiene un pago exitoso")
	ErrNotPaid             = apperr.Kind(apperr.ErrConflict, "el pago aún no se ha completado")
	ErrPaymentInProgress   = apperr.Kind(apperr.ErrConflict, "hay un pago en proceso para este pedido")
	ErrIgnoredEvent        = apperr.Kind(apperr.ErrValidation, "evento de webhook no manejado")
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxSucceeded TxStatus = "succeeded"
	TxFailed    TxStatus = "failed"
	TxCanceled  TxStatus = "canceled"
	TxRefunded  TxStatus = "refunded"
)

// CodeDuplicate marks a transaction that succeeded at the gateway after its
// order was already paid. Such charges are refunded automatically.
const CodeDuplicate = "pago_duplicado"

// Open reports whether failure or cancellation events may still apply.
func (s TxStatus) Open() bool { return s == TxPending || s == TxFailed }

type CardMeta struct {
	Last4 string `json:"last4,omitempty"`
	Brand string `json:"brand,omitempty"`
	Type  string `json:"card_type,omitempty"`
}

func (c CardMeta) Empty() bool { return c == CardMeta{} }

// Transaction is one payment attempt against the gateway.
type Transaction struct {
	ID             int64             `json:"id"`
	OrderID        int64             `json:"order_id"`
	IntentID       string            `json:"intent_id"`
	CustomerRef    string            `json:"-"`
	Status         TxStatus          `json:"status"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"-"`
	Attempt        int               `json:"attempt"`
	ErrorCode      string            `json:"error_code,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Fee            *decimal.Decimal  `json:"fee,omitempty"`
	Net            *decimal.Decimal  `json:"net,omitempty"`
	Card           CardMeta          `json:"card"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type User struct {
	ID          int64
	Email       string
	Name        string
	CustomerRef string
}

// PaymentMethod is a tokenized card saved for a user.
type PaymentMethod struct {
	ID              int64  `json:"id"`
	UserID          int64  `json:"-"`
	GatewayMethodID string `json:"gateway_method_id"`
	CustomerRef     string `json:"-"`
	Kind            string `json:"kind"`
	Brand           string `json:"brand"`
	Last4           string `json:"last4"`
	ExpMonth        int    `json:"exp_month"`
	ExpYear         int    `json:"exp_year"`
	IsDefault       bool   `json:"is_default"`
}

type IntentResult struct {
	ClientSecret  string `json:"client_secret"`
	IntentID      string `json:"payment_intent_id"`
	TransactionID int64  `json:"transaction_id"`
	AmountMinor   int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reused        bool   `json:"reused"`
}

type ConfirmResult struct {
	OrderID        int64    `json:"order_id"`
	TransactionID  int64    `json:"transaction_id"`
	Status         TxStatus `json:"status"`
	AlreadySettled bool     `json:"already_settled"`
}

type RefundResult struct {
	RefundID string `json:"refund_id"`
	IntentID string `json:"payment_intent_id"`
	OrderID  int64  `json:"order_id"`
}

// MinorUnits converts a two-decimal currency amount to cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinor is the inverse of MinorUnits.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
