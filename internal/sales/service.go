package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	"github.com/ariefcatur/go-realtime-checkout/internal/logging"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Repository interface {
	Insert(ctx context.Context, s *Sale) error
	Get(ctx context.Context, id int64) (Sale, error)
	GetForUpdate(ctx context.Context, id int64) (Sale, error)
	Settle(ctx context.Context, id int64, paymentTypeID *int64, at time.Time) error
	DeleteItems(ctx context.Context, id int64) error
	MarkCancelled(ctx context.Context, id int64) error
	List(ctx context.Context, f Filter) ([]Sale, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Stock interface {
	Reserve(ctx context.Context, businessID int64, items []inventory.Request) ([]inventory.Line, error)
	Withdraw(ctx context.Context, businessID int64, lines []inventory.Line, m inventory.Movement) error
}

// OrderConfirmer reads and moves the order a sale settles. Transition must
// join the caller's transaction when ctx carries one.
type OrderConfirmer interface {
	Get(ctx context.Context, id int64) (orders.Order, error)
	Transition(ctx context.Context, id int64, target orders.Status, reason string) (orders.Order, error)
}

type Service struct {
	Tx     TxRunner
	Repo   Repository
	Stock  Stock
	Orders OrderConfirmer
	Log    *zap.Logger
	Now    func() time.Time
}

type CreateInput struct {
	BusinessID    int64               `json:"business_id"`
	OperatorID    *int64              `json:"operator_id,omitempty"`
	PaymentTypeID *int64              `json:"payment_type_id,omitempty"`
	OrderID       *int64              `json:"order_id,omitempty"`
	Items         []inventory.Request `json:"items"`
	// Total, when set, must equal the sum of the sale lines.
	Total *decimal.Decimal `json:"total,omitempty"`
	// Settle defaults to true.
	Settle *bool `json:"settle,omitempty"`
}

func (in CreateInput) settle() bool {
	return in.Settle == nil || *in.Settle
}

// Create records a sale and takes its stock in one transaction. A sale
// linked to an order takes its lines from that order, whose stock was
// withdrawn when the order was placed, so nothing is withdrawn again. A
// settled linked sale confirms its order before commit.
func (s *Service) Create(ctx context.Context, in CreateInput) (Sale, error) {
	items, err := inventory.Merge(in.Items)
	if err != nil {
		return Sale{}, err
	}
	if in.OrderID == nil && in.settle() && len(items) == 0 {
		return Sale{}, ErrEmptySale
	}

	var sale Sale
	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		sale = Sale{
			BusinessID:    in.BusinessID,
			OperatorID:    in.OperatorID,
			PaymentTypeID: in.PaymentTypeID,
			OrderID:       in.OrderID,
			Status:        StatusOpen,
			CreatedAt:     now,
		}
		if in.settle() {
			sale.Status = StatusPaid
			sale.SettledAt = &now
		}

		var lines []inventory.Line
		if in.OrderID != nil {
			if err := s.linesFromOrder(ctx, &sale, items); err != nil {
				return err
			}
		} else {
			var err error
			if lines, err = s.Stock.Reserve(ctx, in.BusinessID, items); err != nil {
				return err
			}
			sale.Items = itemsFromLines(lines)
			sale.Total = inventory.Total(lines)
		}
		if in.Total != nil && !in.Total.Equal(sale.Total) {
			return fmt.Errorf("%w: total %s, líneas %s", ErrTotalMismatch, in.Total, sale.Total)
		}
		if !sale.Total.Equal(sale.ItemsTotal()) {
			return fmt.Errorf("%w: total %s, líneas %s", orders.ErrTotalMismatch, sale.Total, sale.ItemsTotal())
		}

		if err := s.Repo.Insert(ctx, &sale); err != nil {
			return err
		}

		if len(lines) > 0 {
			saleID := sale.ID
			err := s.Stock.Withdraw(ctx, in.BusinessID, lines, inventory.Movement{
				Reason:     inventory.ReasonSale,
				SaleID:     &saleID,
				OperatorID: in.OperatorID,
			})
			if err != nil {
				return err
			}
		}

		if sale.Status == StatusPaid {
			return s.confirmOrder(ctx, sale)
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}

	logging.FromContext(ctx).Info("sale created",
		zap.Int64("sale_id", sale.ID),
		zap.Int64("business_id", sale.BusinessID),
		zap.String("status", string(sale.Status)),
		zap.Stringer("total", sale.Total),
	)
	return sale, nil
}

// linesFromOrder copies the order's lines and total into sale. Items sent
// with the sale must match the order line for line.
func (s *Service) linesFromOrder(ctx context.Context, sale *Sale, items []inventory.Request) error {
	if s.Orders == nil {
		return fmt.Errorf("%w: pedido %d", ErrOrderMismatch, *sale.OrderID)
	}
	o, err := s.Orders.Get(ctx, *sale.OrderID)
	if err != nil {
		return err
	}
	if o.BusinessID != sale.BusinessID {
		return fmt.Errorf("%w: pedido %d es del negocio %d", ErrOrderMismatch, o.ID, o.BusinessID)
	}
	if o.Status == orders.StatusCancelled {
		return fmt.Errorf("%w: pedido %d cancelado", ErrOrderMismatch, o.ID)
	}
	if len(items) > 0 && !sameLines(items, o.Items) {
		return fmt.Errorf("%w: productos distintos a los del pedido %d", ErrOrderMismatch, o.ID)
	}
	sale.Items = make([]Item, len(o.Items))
	for i, it := range o.Items {
		sale.Items[i] = Item{ProductID: it.ProductID, Qty: it.Qty, UnitPrice: it.UnitPrice}
	}
	sale.Total = o.Total
	return nil
}

func sameLines(items []inventory.Request, lines []orders.Item) bool {
	if len(items) != len(lines) {
		return false
	}
	want := make(map[int64]int, len(lines))
	for _, l := range lines {
		want[l.ProductID] += l.Qty
	}
	for _, it := range items {
		if want[it.ProductID] != it.Qty {
			return false
		}
	}
	return true
}

// Close settles an open sale with the given payment type.
func (s *Service) Close(ctx context.Context, id int64, paymentTypeID *int64) (Sale, error) {
	var sale Sale
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		sale, err = s.Repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch sale.Status {
		case StatusPaid:
			return ErrAlreadyClosed
		case StatusCancelled:
			return ErrCancelled
		}
		if len(sale.Items) == 0 {
			return ErrEmptySale
		}

		at := s.now()
		if err := s.Repo.Settle(ctx, id, paymentTypeID, at); err != nil {
			return err
		}
		sale.Status = StatusPaid
		sale.SettledAt = &at
		if paymentTypeID != nil {
			sale.PaymentTypeID = paymentTypeID
		}
		return s.confirmOrder(ctx, sale)
	})
	if err != nil {
		return Sale{}, err
	}

	logging.FromContext(ctx).Info("sale closed", zap.Int64("sale_id", id), zap.Stringer("total", sale.Total))
	return sale, nil
}

// Cancel voids a sale. Items are dropped and stock is not returned.
// Cancelling a cancelled sale is a no-op.
func (s *Service) Cancel(ctx context.Context, id int64) (Sale, error) {
	var sale Sale
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		sale, err = s.Repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sale.Status == StatusCancelled {
			return nil
		}
		if err := s.Repo.DeleteItems(ctx, id); err != nil {
			return err
		}
		if err := s.Repo.MarkCancelled(ctx, id); err != nil {
			return err
		}

		from := sale.Status
		sale.Status = StatusCancelled
		sale.SettledAt = nil
		sale.Items = nil
		postgres.AfterCommit(ctx, func() {
			logging.FromContext(ctx).Info("sale cancelled",
				zap.Int64("sale_id", id),
				zap.String("from", string(from)),
			)
		})
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.Repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Sale, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *f.Status)
	}
	return s.Repo.List(ctx, f)
}

func (s *Service) confirmOrder(ctx context.Context, sale Sale) error {
	if sale.OrderID == nil || s.Orders == nil {
		return nil
	}
	if _, err := s.Orders.Transition(ctx, *sale.OrderID, orders.StatusConfirmed, ""); err != nil {
		return fmt.Errorf("confirm order %d for sale %d: %w", *sale.OrderID, sale.ID, err)
	}
	return nil
}

func itemsFromLines(lines []inventory.Line) []Item {
	items := make([]Item, len(lines))
	for i, l := range lines {
		items[i] = Item{ProductID: l.ProductID, Qty: l.Qty, UnitPrice: l.UnitPrice}
	}
	return items
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
