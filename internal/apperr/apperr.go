// Package apperr holds the error kinds shared by every component. Domain
// packages declare their own sentinels wrapping one of these kinds so the
// HTTP layer can map them without knowing each package.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrGateway    = errors.New("payment gateway")
	// ErrInvariant marks a broken internal invariant. It must abort the
	// enclosing transaction.
	ErrInvariant = errors.New("invariant violation")
)

// kindError carries a client-facing message. The kind only takes part in
// errors.Is, never in the message.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// Kind declares a sentinel of the given kind: errors.Is matches both the
// returned error and kind. Its message is msg alone.
func Kind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

type gatewayError struct {
	op  string
	err error
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("error de la pasarela de pago (%s): %v", e.op, e.err)
}

func (e *gatewayError) Unwrap() []error { return []error{ErrGateway, e.err} }

// Gateway wraps an error returned by the payment gateway.
func Gateway(op string, err error) error {
	return &gatewayError{op: op, err: err}
}
