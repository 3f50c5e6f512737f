package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation is not valid for the current status.
var ErrInvalidState = errors.New("invalid state")

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Active statuses hold the appointment's slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type StatusEvent string

const (
	EventConfirm  StatusEvent = "confirm"
	EventCancel   StatusEvent = "cancel"
	EventComplete StatusEvent = "complete"
)

// Transition returns the status reached by applying ev to from. Confirming an
// already confirmed appointment is accepted and leaves it unchanged.
func Transition(from Status, ev StatusEvent) (Status, error) {
	switch from {
	case StatusPending:
		switch ev {
		case EventConfirm:
			return StatusConfirmed, nil
		case EventCancel:
			return StatusCancelled, nil
		case EventComplete:
			return StatusCompleted, nil
		}
	case StatusConfirmed:
		switch ev {
		case EventConfirm:
			return StatusConfirmed, nil
		case EventCancel:
			return StatusCancelled, nil
		case EventComplete:
			return StatusCompleted, nil
		}
	case StatusCancelled, StatusCompleted:
		return from, fmt.Errorf("%w: appointment is %s", ErrInvalidState, from)
	}
	return from, fmt.Errorf("%w: cannot %s from %q", ErrInvalidState, ev, from)
}
