package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, business_id, user_id, COALESCE(guest_email, ''), status, total,
	COALESCE(cancel_reason, ''), created_at, updated_at, confirmed_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.BusinessID, &o.UserID, &o.GuestEmail, &status, &o.Total,
		&o.CancelReason, &o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt)
	o.Status = Status(status)
	return o, err
}

// Insert stores o and its items, filling in the generated id.
func (r *Repo) Insert(ctx context.Context, o *Order) error {
	q := postgres.Conn(ctx, r.DB)

	err := q.QueryRow(ctx, `
		INSERT INTO orders (business_id, user_id, guest_email, status, total, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $6)
		RETURNING id`,
		o.BusinessID, o.UserID, o.GuestEmail, string(o.Status), o.Total, o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	o.UpdatedAt = o.CreatedAt

	for _, it := range o.Items {
		if _, err := q.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, it.ProductID, it.Name, it.Qty, it.UnitPrice,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id int64) (Order, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate locks the order row until the surrounding transaction ends.
func (r *Repo) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	return r.get(ctx, id, "FOR UPDATE")
}

func (r *Repo) get(ctx context.Context, id int64, lock string) (Order, error) {
	q := postgres.Conn(ctx, r.DB)

	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 `+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}

	items, err := r.items(ctx, []int64{id})
	if err != nil {
		return Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (r *Repo) items(ctx context.Context, orderIDs []int64) (map[int64][]Item, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT order_id, product_id, name, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]Item, len(orderIDs))
	for rows.Next() {
		var orderID int64
		var it Item
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Qty, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func (r *Repo) UpdateStatus(ctx context.Context, id int64, s Status, reason string, at time.Time) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		UPDATE orders SET
			status = $2,
			cancel_reason = CASE WHEN $2 = 'cancelado' THEN NULLIF($3, '') ELSE cancel_reason END,
			confirmed_at = CASE WHEN $2 = 'confirmado' THEN $4 ELSE confirmed_at END,
			updated_at = $4
		WHERE id = $1`, id, string(s), reason, at)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

// ListCancellableWithProduct returns the orders of a business that contain
// productID and can still move to cancelado.
func (r *Repo) ListCancellableWithProduct(ctx context.Context, businessID, productID int64) ([]int64, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT DISTINCT o.id
		FROM orders o
		JOIN order_items i ON i.order_id = o.id
		WHERE o.business_id = $1 AND i.product_id = $2
		  AND o.status IN ('pendiente', 'confirmado', 'en_preparacion')
		ORDER BY o.id`, businessID, productID)
	if err != nil {
		return nil, fmt.Errorf("list orders by product: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) List(ctx context.Context, f Filter) ([]Order, error) {
	var where []string
	var args []any
	if f.BusinessID != nil {
		args = append(args, *f.BusinessID)
		where = append(where, fmt.Sprintf("business_id = $%d", len(args)))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var out []Order
	var ids []int64
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}
