package sales

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

const saleColumns = `id, business_id, operator_id, payment_type_id, order_id, status, total, settled_at, created_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var status string
	err := row.Scan(&s.ID, &s.BusinessID, &s.OperatorID, &s.PaymentTypeID, &s.OrderID,
		&status, &s.Total, &s.SettledAt, &s.CreatedAt)
	s.Status = Status(status)
	return s, err
}

// Insert stores s and its items, filling in the generated id.
func (r *Repo) Insert(ctx context.Context, s *Sale) error {
	q := postgres.Conn(ctx, r.DB)

	err := q.QueryRow(ctx, `
		INSERT INTO sales (business_id, operator_id, payment_type_id, order_id, status, total, settled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		s.BusinessID, s.OperatorID, s.PaymentTypeID, s.OrderID, string(s.Status), s.Total, s.SettledAt, s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}

	for _, it := range s.Items {
		if _, err := q.Exec(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`,
			s.ID, it.ProductID, it.Qty, it.UnitPrice,
		); err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id int64) (Sale, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate locks the sale row until the surrounding transaction ends.
func (r *Repo) GetForUpdate(ctx context.Context, id int64) (Sale, error) {
	return r.get(ctx, id, "FOR UPDATE")
}

func (r *Repo) get(ctx context.Context, id int64, lock string) (Sale, error) {
	s, err := scanSale(postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1 `+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrNotFound
	}
	if err != nil {
		return Sale{}, fmt.Errorf("get sale: %w", err)
	}

	items, err := r.items(ctx, []int64{id})
	if err != nil {
		return Sale{}, err
	}
	s.Items = items[id]
	return s, nil
}

func (r *Repo) items(ctx context.Context, saleIDs []int64) (map[int64][]Item, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT sale_id, product_id, quantity, unit_price
		FROM sale_items WHERE sale_id = ANY($1)
		ORDER BY id`, saleIDs)
	if err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]Item, len(saleIDs))
	for rows.Next() {
		var saleID int64
		var it Item
		if err := rows.Scan(&saleID, &it.ProductID, &it.Qty, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		out[saleID] = append(out[saleID], it)
	}
	return out, rows.Err()
}

func (r *Repo) Settle(ctx context.Context, id int64, paymentTypeID *int64, at time.Time) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		UPDATE sales SET status = 'pagada', payment_type_id = COALESCE($2, payment_type_id), settled_at = $3
		WHERE id = $1`, id, paymentTypeID, at)
	if err != nil {
		return fmt.Errorf("settle sale: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) DeleteItems(ctx context.Context, id int64) error {
	if _, err := postgres.Conn(ctx, r.DB).Exec(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, id); err != nil {
		return fmt.Errorf("delete sale items: %w", err)
	}
	return nil
}

func (r *Repo) MarkCancelled(ctx context.Context, id int64) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		UPDATE sales SET status = 'cancelada', settled_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("cancel sale: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) List(ctx context.Context, f Filter) ([]Sale, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.BusinessID != nil {
		add("business_id = $%d", *f.BusinessID)
	}
	if f.OperatorID != nil {
		add("operator_id = $%d", *f.OperatorID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	var out []Sale
	var ids []int64
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		out = append(out, s)
		ids = append(ids, s.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
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
