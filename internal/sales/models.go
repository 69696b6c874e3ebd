package sales

import (
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = apperr.Kind(apperr.ErrNotFound, "venta no encontrada")
	ErrEmptySale     = apperr.Kind(apperr.ErrConflict, "no es posible cerrar la venta sin productos")
	ErrAlreadyClosed = apperr.Kind(apperr.ErrConflict, "la venta ya está cerrada")
	ErrCancelled     = apperr.Kind(apperr.ErrConflict, "no es posible cerrar una venta cancelada")
	ErrInvalidStatus = apperr.Kind(apperr.ErrValidation, "estado de venta desconocido")
	ErrTotalMismatch = apperr.Kind(apperr.ErrValidation, "el total no coincide con la suma de las líneas")
	ErrOrderMismatch = apperr.Kind(apperr.ErrConflict, "la venta no corresponde al pedido")
)

type Status string

const (
	StatusOpen      Status = "abierta"
	StatusPaid      Status = "pagada"
	StatusCancelled Status = "cancelada"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

type Sale struct {
	ID            int64           `json:"id"`
	BusinessID    int64           `json:"business_id"`
	OperatorID    *int64          `json:"operator_id,omitempty"`
	PaymentTypeID *int64          `json:"payment_type_id,omitempty"`
	OrderID       *int64          `json:"order_id,omitempty"`
	Status        Status          `json:"status"`
	Total         decimal.Decimal `json:"total"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []Item          `json:"items"`
}

func (s Sale) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range s.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	return total
}

type Item struct {
	ProductID int64           `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Filter narrows List. Zero values are ignored; From and To bound created_at.
type Filter struct {
	BusinessID *int64
	OperatorID *int64
	Status     *Status
	From       *time.Time
	To         *time.Time
	Limit      int
}
