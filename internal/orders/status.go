package orders

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pendiente"
	StatusConfirmed Status = "confirmado"
	StatusPreparing Status = "en_preparacion"
	StatusReady     Status = "listo"
	StatusDelivered Status = "entregado"
	StatusCancelled Status = "cancelado"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled}

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing: {StatusReady: true, StatusCancelled: true},
	StatusReady:     {StatusDelivered: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// Allowed returns the targets reachable from s in lifecycle order.
func Allowed(s Status) []Status {
	out := make([]Status, 0, len(validNext[s]))
	for _, t := range Statuses {
		if validNext[s][t] {
			out = append(out, t)
		}
	}
	return out
}

// TransitionError names the rejected edge. It matches ErrInvalidTransition.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	allowed := Allowed(e.From)
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	list := strings.Join(names, ", ")
	if list == "" {
		list = "ninguna"
	}
	return fmt.Sprintf("%v: no se puede cambiar de %q a %q; transiciones permitidas: %s", ErrInvalidTransition, e.From, e.To, list)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
