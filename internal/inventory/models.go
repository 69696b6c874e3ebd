package inventory

import (
	"fmt"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound    = apperr.Kind(apperr.ErrNotFound, "producto no encontrado")
	ErrProductUnavailable = apperr.Kind(apperr.ErrConflict, "producto no disponible para la venta")
	ErrInsufficientStock  = apperr.Kind(apperr.ErrConflict, "stock insuficiente")
	ErrInvalidPrice       = apperr.Kind(apperr.ErrValidation, "precio inválido")
	ErrInvalidQuantity    = apperr.Kind(apperr.ErrValidation, "cantidad inválida")
	ErrRecordNotFound     = apperr.Kind(apperr.ErrNotFound, "inventario no encontrado")
)

// Stock is a product joined with its inventory row for one business.
// Tracked is false when the business has no inventory row for the product.
type Stock struct {
	ProductID int64
	Name      string
	Price     decimal.Decimal
	Active    bool
	Tracked   bool
	Available int
}

// Request is one requested line. Price, when set, overrides the catalog price.
type Request struct {
	ProductID int64            `json:"product_id"`
	Qty       int              `json:"qty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// Line is a validated request with its effective unit price.
type Line struct {
	ProductID int64
	Name      string
	Qty       int
	UnitPrice decimal.Decimal
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Total sums qty × unit price over lines.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

type Reason string

const (
	ReasonSale       Reason = "venta"
	ReasonOrder      Reason = "pedido"
	ReasonAdjustment Reason = "ajuste"
)

// Movement describes who took stock and why.
type Movement struct {
	Reason     Reason
	SaleID     *int64
	OrderID    *int64
	OperatorID *int64
}

// Depletion is emitted after commit when a product's stock crosses from
// positive to zero or below.
type Depletion struct {
	BusinessID int64     `json:"business_id"`
	ProductID  int64     `json:"product_id"`
	Before     int       `json:"before"`
	After      int       `json:"after"`
	At         time.Time `json:"at"`
}

func crossedToEmpty(before, after int) bool {
	return before > 0 && after <= 0
}

// Merge folds requests for the same product into one line, summing
// quantities. The last explicit price override wins. First-seen order is kept.
// Every input line must carry a positive quantity; a negative line cannot
// offset another one.
func Merge(items []Request) ([]Request, error) {
	out := make([]Request, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, it := range items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("%w: producto %d, cantidad %d", ErrInvalidQuantity, it.ProductID, it.Qty)
		}
		i, ok := index[it.ProductID]
		if !ok {
			index[it.ProductID] = len(out)
			out = append(out, it)
			continue
		}
		out[i].Qty += it.Qty
		if it.Price != nil {
			out[i].Price = it.Price
		}
	}
	return out, nil
}
