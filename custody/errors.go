package custody

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced evidence item, event or user that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an authenticated caller that is not the authorized actor.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks a state invariant violation.
	ErrConflict = errors.New("conflict")
)

// LockedError is returned when a transfer is initiated on an item that
// already has a pending transfer.
type LockedError struct {
	EvidenceID string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("evidence %s is locked due to a pending custody transfer", e.EvidenceID)
}

func (e *LockedError) Is(target error) bool { return target == ErrConflict }

// AlreadyResolvedError is returned when approving or rejecting an event
// that has left the pending state.
type AlreadyResolvedError struct {
	EventID string
	Status  EventStatus
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("transfer %s has already been %s", e.EventID, e.Status)
}

func (e *AlreadyResolvedError) Is(target error) bool { return target == ErrConflict }

// DuplicateError is returned when a unique attribute is already taken.
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Field, e.Value)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrConflict }

// ValidationError describes rejected input. Allowed lists the accepted
// values when the input must come from a fixed or configured set.
type ValidationError struct {
	Message string
	Allowed []string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
