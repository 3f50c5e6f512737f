package booking

import (
	"context"
	"errors"

	"physiodesk/backend/internal/store"
)

var (
	ErrNotFound            = store.ErrNotFound
	ErrConflict            = store.ErrConflict
	ErrInvalidState        = store.ErrInvalidState
	ErrIdempotencyConflict = store.ErrIdempotencyConflict
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// RetrievalError reports a store call that failed for reasons other than
// the booking rules, such as a lost connection.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrIdempotencyConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &RetrievalError{Op: op, Err: err}
}
