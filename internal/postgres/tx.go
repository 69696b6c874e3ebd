package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// TxRunner opens one transaction per outermost WithTx call. Nested calls
// join the transaction already stored in the context.
type TxRunner struct{ DB *pgxpool.Pool }

func (r *TxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	return Scope(ctx, func(ctx context.Context) error {
		tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		txCtx := context.WithValue(ctx, txKey{}, tx)
		if err := fn(txCtx); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		return tx.Commit(ctx)
	})
}

// Conn returns the transaction bound to ctx, or the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

type scopeKey struct{}

type scope struct{ after []func() }

// Scope runs fn and, when it returns nil, the callbacks registered through
// AfterCommit. An enclosing scope absorbs inner ones.
func Scope(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(scopeKey{}).(*scope); ok {
		return fn(ctx)
	}
	s := &scope{}
	if err := fn(context.WithValue(ctx, scopeKey{}, s)); err != nil {
		return err
	}
	for _, f := range s.after {
		f()
	}
	return nil
}

// AfterCommit defers f until the enclosing scope succeeds. Outside a scope f
// runs immediately.
func AfterCommit(ctx context.Context, f func()) {
	if s, ok := ctx.Value(scopeKey{}).(*scope); ok {
		s.after = append(s.after, f)
		return
	}
	f()
}
