package model

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input before any state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AlreadyResolvedError signals a resolution attempt on a non-pending conflict.
// The original Resolution is untouched.
type AlreadyResolvedError struct {
	ConflictID string
	Status     ConflictStatus
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("conflict %s already %s", e.ConflictID, e.Status)
}

// NotFoundError signals an unknown id in a query operation.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAlreadyResolved reports whether err is (or wraps) an AlreadyResolvedError.
func IsAlreadyResolved(err error) bool {
	var ae *AlreadyResolvedError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
