package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatchesKindAndSentinel(t *testing.T) {
	errOutOfStock := Kind(ErrConflict, "stock insuficiente")
	wrapped := fmt.Errorf("%w: producto 7, disponible 0", errOutOfStock)

	if !errors.Is(wrapped, errOutOfStock) {
		t.Fatalf("expected sentinel match, got %v", wrapped)
	}
	if !errors.Is(wrapped, ErrConflict) {
		t.Fatalf("expected conflict kind, got %v", wrapped)
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("unexpected not found match")
	}
}

func TestGatewayKeepsCause(t *testing.T) {
	cause := errors.New("card_declined")
	err := Gateway("create intent", cause)

	if !errors.Is(err, ErrGateway) || !errors.Is(err, cause) {
		t.Fatalf("expected gateway kind and cause, got %v", err)
	}
}

func TestMessagesLeaveOutKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		want string
	}{
		{name: "sentinel", err: Kind(ErrNotFound, "venta no encontrada"), kind: ErrNotFound, want: "venta no encontrada"},
		{
			name: "wrapped sentinel",
			err:  fmt.Errorf("%w: producto 7, disponible 0", Kind(ErrConflict, "stock insuficiente")),
			kind: ErrConflict,
			want: "stock insuficiente: producto 7, disponible 0",
		},
		{
			name: "gateway",
			err:  Gateway("create refund", errors.New("charge_already_refunded")),
			kind: ErrGateway,
			want: "error de la pasarela de pago (create refund): charge_already_refunded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Fatalf("message = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, tt.kind) {
				t.Fatalf("kind lost: %v", tt.err)
			}
		})
	}
}
