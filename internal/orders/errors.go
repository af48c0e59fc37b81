package orders

import (
	"errors"
	"fmt"
)

// Kind classifies domain failures; transports map it to a status code.
type Kind string

const (
	KindInvalidRequest           Kind = "invalid_request"
	KindNotFound                 Kind = "not_found"
	KindUnauthorized             Kind = "unauthorized"
	KindOrderLocked              Kind = "order_locked"
	KindInsufficientStock        Kind = "insufficient_stock"
	KindInvalidOperation         Kind = "invalid_operation"
	KindConflict                 Kind = "conflict"
	KindPersistenceInconsistency Kind = "persistence_inconsistency"
)

var (
	ErrInvalidRequest           = errors.New("invalid request")
	ErrNotFound                 = errors.New("not found")
	ErrUnauthorized             = errors.New("access denied")
	ErrOrderLocked              = errors.New("order locked")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrInvalidOperation         = errors.New("invalid operation")
	ErrConflict                 = errors.New("conflict")
	ErrPersistenceInconsistency = errors.New("persistence inconsistency")
)

var sentinels = map[Kind]error{
	KindInvalidRequest:           ErrInvalidRequest,
	KindNotFound:                 ErrNotFound,
	KindUnauthorized:             ErrUnauthorized,
	KindOrderLocked:              ErrOrderLocked,
	KindInsufficientStock:        ErrInsufficientStock,
	KindInvalidOperation:         ErrInvalidOperation,
	KindConflict:                 ErrConflict,
	KindPersistenceInconsistency: ErrPersistenceInconsistency,
}

type Error struct {
	Op      string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) match any *Error of that kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return sentinels[e.Kind] == target
}

func newError(op string, kind Kind, message string, err error) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of a domain error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
