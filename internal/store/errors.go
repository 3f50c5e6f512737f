package store

import (
	"errors"

	"physiodesk/backend/internal/domain"
)

var (
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	ErrInvalidState        = domain.ErrInvalidState
)
