package types

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable is returned when the persistence collaborator
	// rejects a read or a write.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrNotFound is returned when a task or missed occurrence id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDeliveryFailed is returned when a prompt could not be handed to the
	// consumption surface.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrAlarmOperationFailed is returned by the alarm service. It is never
	// propagated past the schedule engine.
	ErrAlarmOperationFailed = errors.New("alarm operation failed")
	// ErrInvalidTask is returned when a task definition fails validation.
	ErrInvalidTask = errors.New("invalid task")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func TaskNotFound(id string) error {
	return &NotFoundError{Kind: "task", ID: id}
}

func MissedNotFound(id string) error {
	return &NotFoundError{Kind: "missed task", ID: id}
}
