package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/ariefcatur/go-realtime-checkout/internal/testutil"
)

func TestWithTxRollsBackAndSkipsHooks(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	runner := &postgres.TxRunner{DB: pool}

	hooked := false
	boom := errors.New("boom")
	err := runner.WithTx(ctx, func(ctx context.Context) error {
		if _, err := postgres.Conn(ctx, pool).Exec(ctx, `INSERT INTO users (email) VALUES ('rollback@example.com')`); err != nil {
			return err
		}
		postgres.AfterCommit(ctx, func() { hooked = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if hooked {
		t.Fatal("hook ran after rollback")
	}

	var n int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback, found %d users", n)
	}
}

func TestWithTxNestedJoinsOuter(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	runner := &postgres.TxRunner{DB: pool}

	hooks := 0
	err := runner.WithTx(ctx, func(ctx context.Context) error {
		if _, err := postgres.Conn(ctx, pool).Exec(ctx, `INSERT INTO users (email) VALUES ('outer@example.com')`); err != nil {
			return err
		}
		postgres.AfterCommit(ctx, func() { hooks++ })
		return runner.WithTx(ctx, func(ctx context.Context) error {
			postgres.AfterCommit(ctx, func() { hooks++ })
			_, err := postgres.Conn(ctx, pool).Exec(ctx, `INSERT INTO users (email) VALUES ('inner@example.com')`)
			return err
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hooks != 2 {
		t.Fatalf("hooks = %d", hooks)
	}
	var n int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 users, got %d", n)
	}
}
