package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

const txColumns = `id, order_id, intent_id, COALESCE(customer_ref, ''), status, amount, currency,
	idempotency_key, attempt, COALESCE(error_code, ''), COALESCE(error_message, ''), fee, net,
	COALESCE(card_last4, ''), COALESCE(card_brand, ''), COALESCE(card_type, ''), metadata,
	created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var status string
	var meta []byte
	err := row.Scan(&t.ID, &t.OrderID, &t.IntentID, &t.CustomerRef, &status, &t.Amount, &t.Currency,
		&t.IdempotencyKey, &t.Attempt, &t.ErrorCode, &t.ErrorMessage, &t.Fee, &t.Net,
		&t.Card.Last4, &t.Card.Brand, &t.Card.Type, &meta, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Status = TxStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return t, fmt.Errorf("decode transaction metadata: %w", err)
		}
	}
	return t, nil
}

// InsertTransaction stores t. A second insert for the same intent id returns
// the existing row and created=false.
func (r *Repo) InsertTransaction(ctx context.Context, t *Transaction) (bool, error) {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode transaction metadata: %w", err)
	}
	if t.Metadata == nil {
		meta = []byte("{}")
	}

	q := postgres.Conn(ctx, r.DB)
	err = q.QueryRow(ctx, `
		INSERT INTO transactions (order_id, intent_id, customer_ref, status, amount, currency,
			idempotency_key, attempt, metadata)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (intent_id) DO NOTHING
		RETURNING id, created_at, updated_at`,
		t.OrderID, t.IntentID, t.CustomerRef, string(t.Status), t.Amount, t.Currency,
		t.IdempotencyKey, t.Attempt, meta,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("insert transaction: %w", err)
	}

	existing, err := r.GetByIntent(ctx, t.IntentID)
	if err != nil {
		return false, err
	}
	*t = existing
	return false, nil
}

func (r *Repo) GetByIntent(ctx context.Context, intentID string) (Transaction, error) {
	return r.getBy(ctx, "intent_id = $1", "", intentID)
}

// GetByIntentForUpdate locks the transaction row until the surrounding
// transaction ends.
func (r *Repo) GetByIntentForUpdate(ctx context.Context, intentID string) (Transaction, error) {
	return r.getBy(ctx, "intent_id = $1", "FOR UPDATE", intentID)
}

// LatestForOrder returns the newest transaction of the order in status s.
func (r *Repo) LatestForOrder(ctx context.Context, orderID int64, s TxStatus) (Transaction, error) {
	return r.getBy(ctx, "order_id = $1 AND status = $2 ORDER BY id DESC LIMIT 1", "", orderID, string(s))
}

func (r *Repo) getBy(ctx context.Context, where, lock string, args ...any) (Transaction, error) {
	q := postgres.Conn(ctx, r.DB)
	t, err := scanTransaction(q.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE `+where+` `+lock, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (r *Repo) HasSucceeded(ctx context.Context, orderID int64) (bool, error) {
	var ok bool
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE order_id = $1 AND status = 'succeeded')`, orderID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check succeeded transaction: %w", err)
	}
	return ok, nil
}

// LockOrder holds the order row until the surrounding transaction ends so
// concurrent settlements of one order serialize.
func (r *Repo) LockOrder(ctx context.Context, orderID int64) error {
	var id int64
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT id FROM orders WHERE id = $1 FOR UPDATE`, orderID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock order %d: %w", orderID, err)
	}
	return nil
}

func (r *Repo) CountForOrder(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE order_id = $1`, orderID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (r *Repo) MarkSucceeded(ctx context.Context, id int64, fee, net *decimal.Decimal, card CardMeta, at time.Time) error {
	return r.exec(ctx, "mark succeeded", `
		UPDATE transactions SET
			status = 'succeeded',
			fee = COALESCE($2, fee),
			net = COALESCE($3, net),
			card_last4 = COALESCE(NULLIF($4, ''), card_last4),
			card_brand = COALESCE(NULLIF($5, ''), card_brand),
			card_type = COALESCE(NULLIF($6, ''), card_type),
			error_code = NULL,
			error_message = NULL,
			updated_at = $7
		WHERE id = $1`, id, fee, net, card.Last4, card.Brand, card.Type, at)
}

func (r *Repo) MarkFailed(ctx context.Context, id int64, code, msg string, at time.Time) error {
	return r.exec(ctx, "mark failed", `
		UPDATE transactions SET status = 'failed', error_code = $2, error_message = $3, updated_at = $4
		WHERE id = $1`, id, code, msg, at)
}

func (r *Repo) MarkCanceled(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, "mark canceled", `
		UPDATE transactions SET status = 'canceled', updated_at = $2 WHERE id = $1`, id, at)
}

func (r *Repo) MarkRefunded(ctx context.Context, id int64, note string, at time.Time) error {
	return r.exec(ctx, "mark refunded", `
		UPDATE transactions SET status = 'refunded', error_message = NULLIF($2, ''), updated_at = $3
		WHERE id = $1`, id, note, at)
}

func (r *Repo) exec(ctx context.Context, op, sql string, args ...any) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() != 1 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *Repo) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT id, email, name, COALESCE(gateway_customer_id, '') FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CustomerRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SetCustomerRef stores ref unless the user already has one, and returns the
// reference that won.
func (r *Repo) SetCustomerRef(ctx context.Context, userID int64, ref string) (string, error) {
	var out string
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx, `
		UPDATE users SET gateway_customer_id = COALESCE(gateway_customer_id, $2)
		WHERE id = $1
		RETURNING gateway_customer_id`, userID, ref,
	).Scan(&out)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("set customer ref: %w", err)
	}
	return out, nil
}

func (r *Repo) ListMethods(ctx context.Context, userID int64) ([]PaymentMethod, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT id, user_id, gateway_method_id, customer_ref, kind, brand, last4, exp_month, exp_year, is_default
		FROM payment_methods
		WHERE user_id = $1 AND active
		ORDER BY is_default DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	defer rows.Close()

	out := []PaymentMethod{}
	for rows.Next() {
		var m PaymentMethod
		if err := rows.Scan(&m.ID, &m.UserID, &m.GatewayMethodID, &m.CustomerRef, &m.Kind,
			&m.Brand, &m.Last4, &m.ExpMonth, &m.ExpYear, &m.IsDefault); err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertMethod stores m. A default method demotes the user's previous one.
func (r *Repo) InsertMethod(ctx context.Context, m *PaymentMethod) error {
	q := postgres.Conn(ctx, r.DB)
	if m.IsDefault {
		if _, err := q.Exec(ctx,
			`UPDATE payment_methods SET is_default = FALSE WHERE user_id = $1 AND is_default`, m.UserID,
		); err != nil {
			return fmt.Errorf("clear default payment method: %w", err)
		}
	}
	err := q.QueryRow(ctx, `
		INSERT INTO payment_methods (user_id, gateway_method_id, customer_ref, kind, brand, last4,
			exp_month, exp_year, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (gateway_method_id) DO UPDATE SET
			active = TRUE,
			is_default = EXCLUDED.is_default
		RETURNING id`,
		m.UserID, m.GatewayMethodID, m.CustomerRef, m.Kind, m.Brand, m.Last4, m.ExpMonth, m.ExpYear, m.IsDefault,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}
