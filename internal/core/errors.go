package core

import (
	"errors"
	"fmt"
)

// ErrNotFound marks lookups for rows that do not exist (or belong to a
// different garage, which callers must not be able to distinguish).
var ErrNotFound = errors.New("not found")

// ValidationError rejects bad input before any state change.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports an operation not permitted from the item's
// current status. No state change occurs.
type InvalidTransitionError struct {
	Status QueueStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s: %s", e.Status, e.Reason)
}
