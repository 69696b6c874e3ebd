package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	"github.com/ariefcatur/go-realtime-checkout/internal/logging"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"go.uber.org/zap"
)

type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (Order, error)
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateStatus(ctx context.Context, id int64, s Status, reason string, at time.Time) error
	ListCancellableWithProduct(ctx context.Context, businessID, productID int64) ([]int64, error)
	List(ctx context.Context, f Filter) ([]Order, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Stock is the part of the inventory guard orders depend on.
type Stock interface {
	Reserve(ctx context.Context, businessID int64, items []inventory.Request) ([]inventory.Line, error)
	Withdraw(ctx context.Context, businessID int64, lines []inventory.Line, m inventory.Movement) error
}

// Notifier receives fire-and-forget order events. Implementations must not
// block the caller.
type Notifier interface {
	NotifyNewOrder(ctx context.Context, o Order)
	NotifyOrderStatusChange(ctx context.Context, o Order, s Status)
}

// StatusCache mirrors the latest status of an order for fast reads. A write
// whose timestamp is older than the cached entry must be dropped, since
// after-commit writes and read-through refills can arrive out of order.
type StatusCache interface {
	SetStatus(ctx context.Context, orderID int64, s Status, at time.Time) error
}

type Service struct {
	Tx       TxRunner
	Repo     Repository
	Stock    Stock
	Notifier Notifier
	Cache    StatusCache
	Log      *zap.Logger
	Now      func() time.Time
}

type CreateInput struct {
	BusinessID int64               `json:"business_id"`
	UserID     *int64              `json:"user_id,omitempty"`
	GuestEmail string              `json:"guest_email,omitempty"`
	Items      []inventory.Request `json:"items"`
}

// Create reserves and withdraws stock and stores a pendiente order in one
// transaction. Unit prices are snapshotted from the reservation.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	if in.UserID == nil && in.GuestEmail == "" {
		return Order{}, ErrMissingCustomer
	}
	if len(in.Items) == 0 {
		return Order{}, ErrNoItems
	}
	items, err := inventory.Merge(in.Items)
	if err != nil {
		return Order{}, err
	}

	var o Order
	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		lines, err := s.Stock.Reserve(ctx, in.BusinessID, items)
		if err != nil {
			return err
		}
		o = Order{
			BusinessID: in.BusinessID,
			UserID:     in.UserID,
			GuestEmail: in.GuestEmail,
			Status:     StatusPending,
			Total:      inventory.Total(lines),
			Items:      itemsFromLines(lines),
			CreatedAt:  s.now(),
		}
		if !o.Total.Equal(o.ItemsTotal()) {
			return fmt.Errorf("%w: total %s, líneas %s", ErrTotalMismatch, o.Total, o.ItemsTotal())
		}
		if err := s.Repo.Insert(ctx, &o); err != nil {
			return err
		}
		orderID := o.ID
		if err := s.Stock.Withdraw(ctx, in.BusinessID, lines, inventory.Movement{Reason: inventory.ReasonOrder, OrderID: &orderID}); err != nil {
			return err
		}

		created := o
		postgres.AfterCommit(ctx, func() {
			s.cache(ctx, created)
			s.Notifier.NotifyNewOrder(context.WithoutCancel(ctx), created)
		})
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	logging.FromContext(ctx).Info("order created",
		zap.Int64("order_id", o.ID),
		zap.Int64("business_id", o.BusinessID),
		zap.Stringer("total", o.Total),
	)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.Repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	return s.Repo.List(ctx, f)
}

// Transition moves the order to target under a row lock. Asking for the
// current status returns the order unchanged. When ctx already carries a
// transaction the transition joins it and notifies after that commit.
func (s *Service) Transition(ctx context.Context, id int64, target Status, reason string) (Order, error) {
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}

	var o Order
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.Repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == target {
			return nil
		}
		if !CanTransition(o.Status, target) {
			return &TransitionError{From: o.Status, To: target}
		}

		at := s.now()
		if err := s.Repo.UpdateStatus(ctx, id, target, reason, at); err != nil {
			return err
		}
		from := o.Status
		o.Status = target
		o.UpdatedAt = at
		switch target {
		case StatusConfirmed:
			o.ConfirmedAt = &at
		case StatusCancelled:
			o.CancelReason = reason
		}

		changed := o
		postgres.AfterCommit(ctx, func() {
			logging.FromContext(ctx).Info("order status changed",
				zap.Int64("order_id", changed.ID),
				zap.String("from", string(from)),
				zap.String("to", string(changed.Status)),
				zap.String("reason", reason),
			)
			s.cache(ctx, changed)
			s.Notifier.NotifyOrderStatusChange(context.WithoutCancel(ctx), changed, changed.Status)
		})
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// CancelOpenWithProduct cancels every cancellable order of the business that
// references productID. Orders that moved on concurrently are skipped.
func (s *Service) CancelOpenWithProduct(ctx context.Context, businessID, productID int64, reason string) (int, error) {
	ids, err := s.Repo.ListCancellableWithProduct(ctx, businessID, productID)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, id := range ids {
		o, err := s.Transition(ctx, id, StatusCancelled, reason)
		switch {
		case errors.Is(err, ErrInvalidTransition):
			s.Log.Info("order no longer cancellable", zap.Int64("order_id", id), zap.Error(err))
			continue
		case err != nil:
			return cancelled, fmt.Errorf("cancel order %d: %w", id, err)
		}
		if o.CancelReason == reason {
			cancelled++
		}
	}
	return cancelled, nil
}

func (s *Service) cache(ctx context.Context, o Order) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.SetStatus(context.WithoutCancel(ctx), o.ID, o.Status, o.UpdatedAt); err != nil {
		s.Log.Warn("status cache write failed", zap.Int64("order_id", o.ID), zap.Error(err))
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
