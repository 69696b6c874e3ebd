package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// LockStock locks the inventory rows of productIDs for businessID (in
// product id order) and loads the matching products. Unknown products are
// absent from the result.
func (r *Repo) LockStock(ctx context.Context, businessID int64, productIDs []int64) (map[int64]Stock, error) {
	q := postgres.Conn(ctx, r.DB)

	rows, err := q.Query(ctx, `
		SELECT product_id, available FROM inventory
		WHERE business_id = $1 AND product_id = ANY($2)
		ORDER BY product_id
		FOR UPDATE`, businessID, productIDs)
	if err != nil {
		return nil, fmt.Errorf("lock inventory: %w", err)
	}
	available := map[int64]int{}
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		available[id] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock inventory: %w", err)
	}

	rows, err = q.Query(ctx, `SELECT id, name, price, active FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]Stock, len(productIDs))
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.ProductID, &s.Name, &s.Price, &s.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		s.Available, s.Tracked = available[s.ProductID]
		out[s.ProductID] = s
	}
	return out, rows.Err()
}

// Decrement takes qty units and returns the quantity left. The caller must
// hold the row lock taken by LockStock.
func (r *Repo) Decrement(ctx context.Context, businessID, productID int64, qty int) (int, error) {
	var left int
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx, `
		UPDATE inventory SET available = available - $3, updated_at = NOW()
		WHERE product_id = $1 AND business_id = $2 AND available >= $3
		RETURNING available`, productID, businessID, qty).Scan(&left)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: producto %d", ErrInsufficientStock, productID)
	}
	if err != nil {
		return 0, fmt.Errorf("decrement inventory: %w", err)
	}
	return left, nil
}

// SetAvailable overwrites the quantity and returns the previous one.
func (r *Repo) SetAvailable(ctx context.Context, businessID, productID int64, qty int) (int, error) {
	q := postgres.Conn(ctx, r.DB)

	var before int
	err := q.QueryRow(ctx, `
		SELECT available FROM inventory
		WHERE product_id = $1 AND business_id = $2
		FOR UPDATE`, productID, businessID).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock inventory: %w", err)
	}

	if _, err := q.Exec(ctx, `
		UPDATE inventory SET available = $3, updated_at = NOW()
		WHERE product_id = $1 AND business_id = $2`, productID, businessID, qty); err != nil {
		return 0, fmt.Errorf("set inventory: %w", err)
	}
	return before, nil
}

func (r *Repo) InsertMovement(ctx context.Context, businessID, productID int64, delta int, m Movement) error {
	_, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		INSERT INTO inventory_movements (business_id, product_id, delta, reason, sale_id, order_id, operator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		businessID, productID, delta, string(m.Reason), m.SaleID, m.OrderID, m.OperatorID)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}
