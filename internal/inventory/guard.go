package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Repository interface {
	LockStock(ctx context.Context, businessID int64, productIDs []int64) (map[int64]Stock, error)
	Decrement(ctx context.Context, businessID, productID int64, qty int) (int, error)
	SetAvailable(ctx context.Context, businessID, productID int64, qty int) (int, error)
	InsertMovement(ctx context.Context, businessID, productID int64, delta int, m Movement) error
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DepletionPublisher hands depletions to the asynchronous order sweep.
type DepletionPublisher interface {
	PublishDepleted(ctx context.Context, d Depletion) error
}

type Guard struct {
	Tx        TxRunner
	Repo      Repository
	Depletion DepletionPublisher
	Log       *zap.Logger
	Now       func() time.Time
}

// Reserve validates items against locked stock and resolves unit prices.
// It must run inside the caller's transaction and writes nothing.
func (g *Guard) Reserve(ctx context.Context, businessID int64, items []Request) ([]Line, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("%w: producto %d, cantidad %d", ErrInvalidQuantity, it.ProductID, it.Qty)
		}
		ids = append(ids, it.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	stock, err := g.Repo.LockStock(ctx, businessID, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(items))
	for _, it := range items {
		s, ok := stock[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: producto %d", ErrProductNotFound, it.ProductID)
		}
		if !s.Active {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, s.Name)
		}
		if !s.Tracked {
			return nil, fmt.Errorf("%w: %s no tiene inventario en el negocio %d", ErrProductNotFound, s.Name, businessID)
		}
		if s.Available < it.Qty {
			return nil, fmt.Errorf("%w: %s, disponible %d", ErrInsufficientStock, s.Name, s.Available)
		}
		price, err := resolvePrice(it.Price, s)
		if err != nil {
			return nil, err
		}
		lines = append(lines, Line{ProductID: s.ProductID, Name: s.Name, Qty: it.Qty, UnitPrice: price})
	}
	return lines, nil
}

func resolvePrice(override *decimal.Decimal, s Stock) (decimal.Decimal, error) {
	price := s.Price
	if override != nil {
		price = *override
	}
	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s (%s)", ErrInvalidPrice, s.Name, price)
	}
	return price, nil
}

// Withdraw takes the reserved quantities, logs one movement per line and
// schedules a depletion event for every product whose stock ran out.
func (g *Guard) Withdraw(ctx context.Context, businessID int64, lines []Line, m Movement) error {
	for _, l := range lines {
		left, err := g.Repo.Decrement(ctx, businessID, l.ProductID, l.Qty)
		if err != nil {
			return err
		}
		if err := g.Repo.InsertMovement(ctx, businessID, l.ProductID, -l.Qty, m); err != nil {
			return err
		}
		g.afterChange(ctx, businessID, l.ProductID, left+l.Qty, left)
	}
	return nil
}

// Adjust overwrites the available quantity of one product.
func (g *Guard) Adjust(ctx context.Context, businessID, productID int64, qty int, operatorID *int64) error {
	if qty < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	return g.Tx.WithTx(ctx, func(ctx context.Context) error {
		before, err := g.Repo.SetAvailable(ctx, businessID, productID, qty)
		if err != nil {
			return err
		}
		if before == qty {
			return nil
		}
		err = g.Repo.InsertMovement(ctx, businessID, productID, qty-before, Movement{
			Reason:     ReasonAdjustment,
			OperatorID: operatorID,
		})
		if err != nil {
			return err
		}
		g.afterChange(ctx, businessID, productID, before, qty)
		return nil
	})
}

func (g *Guard) afterChange(ctx context.Context, businessID, productID int64, before, after int) {
	if !crossedToEmpty(before, after) {
		return
	}
	d := Depletion{BusinessID: businessID, ProductID: productID, Before: before, After: after, At: g.now()}
	postgres.AfterCommit(ctx, func() {
		if err := g.Depletion.PublishDepleted(context.WithoutCancel(ctx), d); err != nil {
			g.Log.Error("publish depletion failed",
				zap.Int64("business_id", businessID),
				zap.Int64("product_id", productID),
				zap.Error(err),
			)
		}
	})
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}
