package postgres

import (
	"context"
	"errors"
	"testing"
)

func TestScopeRunsHooksOnlyOnSuccess(t *testing.T) {
	var ran []string

	err := Scope(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = append(ran, "first") })
		return Scope(ctx, func(ctx context.Context) error {
			AfterCommit(ctx, func() { ran = append(ran, "nested") })
			if len(ran) != 0 {
				t.Fatalf("hooks ran before commit: %v", ran)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "nested" {
		t.Fatalf("hooks = %v", ran)
	}

	ran = nil
	boom := errors.New("boom")
	err = Scope(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = append(ran, "never") })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(ran) != 0 {
		t.Fatalf("hooks ran after failure: %v", ran)
	}
}

func TestAfterCommitOutsideScopeRunsNow(t *testing.T) {
	called := false
	AfterCommit(context.Background(), func() { called = true })
	if !called {
		t.Fatal("expected immediate call")
	}
}
