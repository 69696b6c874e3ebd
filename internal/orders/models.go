package orders

import (
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/apperr"
	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = apperr.Kind(apperr.ErrNotFound, "pedido no encontrado")
	ErrInvalidTransition = apperr.Kind(apperr.ErrConflict, "transición de estado inválida")
	ErrInvalidStatus     = apperr.Kind(apperr.ErrValidation, "estado de pedido desconocido")
	ErrMissingCustomer   = apperr.Kind(apperr.ErrValidation, "el pedido debe tener un id_usuario o un email_cliente")
	ErrNoItems           = apperr.Kind(apperr.ErrValidation, "el pedido debe contener al menos un producto")
	ErrTotalMismatch     = apperr.Kind(apperr.ErrInvariant, "el total no coincide con la suma de las líneas")
)

// Cancellation reasons.
const (
	ReasonOutOfStock = "stock_insuficiente"
	ReasonRefunded   = "reembolso"
)

type Order struct {
	ID           int64           `json:"id"`
	BusinessID   int64           `json:"business_id"`
	UserID       *int64          `json:"user_id,omitempty"`
	GuestEmail   string          `json:"guest_email,omitempty"`
	Status       Status          `json:"status"`
	Total        decimal.Decimal `json:"total"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	Items        []Item          `json:"items"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ConfirmedAt  *time.Time      `json:"confirmed_at,omitempty"`
}

// Item carries the unit price captured when the order was placed.
type Item struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (o Order) OwnedBy(userID int64) bool {
	return o.UserID != nil && *o.UserID == userID
}

func (o Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	return total
}

func itemsFromLines(lines []inventory.Line) []Item {
	out := make([]Item, 0, len(lines))
	for _, l := range lines {
		out = append(out, Item{ProductID: l.ProductID, Name: l.Name, Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	return out
}

type Filter struct {
	BusinessID *int64
	UserID     *int64
	Status     *Status
	Limit      int
}
