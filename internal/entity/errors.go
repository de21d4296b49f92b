package entity

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures across the procurement core.
type ErrorCode string

const (
	// ErrCodeValidation indicates malformed input, rejected before the store.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNotFound indicates an id/partition miss.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeConflict indicates a version mismatch on a compare-and-replace
	// write. Retryable by the caller after a re-read; never retried internally.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeInvalidTransition indicates a status change absent from the
	// entity type's transition table.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// ErrCodePermission indicates the actor's role is below the edge's
	// minimum level.
	ErrCodePermission ErrorCode = "PERMISSION"

	// ErrCodeStoreUnavailable indicates a transient infrastructure failure.
	// Retried internally to a fixed bound, then surfaced.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrCodeIntegrity indicates an audit fingerprint mismatch. Fatal,
	// never auto-recovered.
	ErrCodeIntegrity ErrorCode = "INTEGRITY"
)

// Error is the structured error type for the procurement core.
//
// Every failure that crosses a package boundary is an *Error so callers can
// branch on Code without string matching. Logical failures (validation,
// permission, transition, conflict) fail fast unchanged; only
// STORE_UNAVAILABLE is subject to internal retry.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the affected entity, when known.
	EntityID string

	// EntityType identifies the affected collection, when known.
	EntityType Type

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.EntityID != "" && e.EntityType != "":
		return fmt.Sprintf("%s: %s (%s/%s)", e.Code, e.Message, e.EntityType, e.EntityID)
	case e.EntityID != "":
		return fmt.Sprintf("%s: %s (id=%s)", e.Code, e.Message, e.EntityID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a VALIDATION error for a single field.
func NewValidationError(field, message string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: message,
		Details: map[string]string{"field": field},
	}
}

// NewNotFoundError creates a NOT_FOUND error.
func NewNotFoundError(t Type, id string) *Error {
	return &Error{
		Code:       ErrCodeNotFound,
		Message:    "entity not found",
		EntityID:   id,
		EntityType: t,
	}
}

// NewConflictError creates a CONFLICT error carrying both versions.
func NewConflictError(t Type, id string, expected, actual int64) *Error {
	return &Error{
		Code:       ErrCodeConflict,
		Message:    fmt.Sprintf("version mismatch: expected %d, found %d", expected, actual),
		EntityID:   id,
		EntityType: t,
		Details: map[string]string{
			"expectedVersion": fmt.Sprintf("%d", expected),
			"actualVersion":   fmt.Sprintf("%d", actual),
		},
	}
}

// NewInvalidTransitionError creates an INVALID_TRANSITION error.
func NewInvalidTransitionError(t Type, id string, from, to Status) *Error {
	return &Error{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("no transition %s -> %s", from, to),
		EntityID:   id,
		EntityType: t,
		Details: map[string]string{
			"from": string(from),
			"to":   string(to),
		},
	}
}

// NewPermissionError creates a PERMISSION error.
func NewPermissionError(actor Actor, required Role, action string) *Error {
	return &Error{
		Code:    ErrCodePermission,
		Message: fmt.Sprintf("%s requires role %s, actor %s has %s", action, required, actor.ID, actor.Role),
		Details: map[string]string{
			"actor":        actor.ID,
			"actorRole":    actor.Role.String(),
			"requiredRole": required.String(),
		},
	}
}

// NewStoreUnavailableError wraps a transient infrastructure failure.
func NewStoreUnavailableError(op string, err error) *Error {
	return &Error{
		Code:    ErrCodeStoreUnavailable,
		Message: fmt.Sprintf("store unavailable during %s", op),
		Err:     err,
	}
}

// NewIntegrityError creates an INTEGRITY error for a fingerprint mismatch.
func NewIntegrityError(t Type, id string, seq int64) *Error {
	return &Error{
		Code:       ErrCodeIntegrity,
		Message:    fmt.Sprintf("audit fingerprint mismatch at seq %d", seq),
		EntityID:   id,
		EntityType: t,
		Details:    map[string]string{"seq": fmt.Sprintf("%d", seq)},
	}
}

// CodeOf extracts the ErrorCode from an error chain, or "" if the chain
// contains no *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConflict reports whether the error chain contains a CONFLICT error.
func IsConflict(err error) bool { return CodeOf(err) == ErrCodeConflict }

// IsNotFound reports whether the error chain contains a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsValidation reports whether the error chain contains a VALIDATION error.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsInvalidTransition reports whether the error chain contains an
// INVALID_TRANSITION error.
func IsInvalidTransition(err error) bool { return CodeOf(err) == ErrCodeInvalidTransition }

// IsPermission reports whether the error chain contains a PERMISSION error.
func IsPermission(err error) bool { return CodeOf(err) == ErrCodePermission }

// IsStoreUnavailable reports whether the error chain contains a
// STORE_UNAVAILABLE error.
func IsStoreUnavailable(err error) bool { return CodeOf(err) == ErrCodeStoreUnavailable }

// IsIntegrity reports whether the error chain contains an INTEGRITY error.
func IsIntegrity(err error) bool { return CodeOf(err) == ErrCodeIntegrity }
