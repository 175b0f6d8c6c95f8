package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Kind string

const (
	KindUnauthenticated   Kind = "unauthenticated"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation_error"
	KindConflict          Kind = "scheduling_conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindStaleState        Kind = "stale_state"
)

// Error is the structured failure returned by every public operation.
// Anything else coming out of the service is an unexpected storage failure.
type Error struct {
	Kind    Kind
	Message string
	// ID is the record the error is about, e.g. the conflicting appointment.
	ID *uuid.UUID
}

func (e *Error) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated, Message: "no authenticated principal"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "operation not permitted for this role"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrValidation         = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrSchedulingConflict = &Error{Kind: KindConflict, Message: "the doctor already has an appointment in this period"}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition, Message: "transition not allowed from the current state"}
	ErrStaleState         = &Error{Kind: KindStaleState, Message: "appointment changed concurrently, reload and retry"}

	// Storage level not-found, mapped to ErrNotFound or ErrStaleState by the service.
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotificationNotFound = errors.New("notification not found")
	// Returned by a store that enforces the no-overlap rule itself.
	ErrOverlapConstraint = errors.New("overlapping scheduled appointment")
)

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func notFound(msg string, id uuid.UUID) *Error {
	return &Error{Kind: KindNotFound, Message: msg, ID: &id}
}

func conflictWith(id uuid.UUID) *Error {
	return &Error{Kind: KindConflict, Message: ErrSchedulingConflict.Message, ID: &id}
}

func invalidTransition(msg string, id uuid.UUID) *Error {
	return &Error{Kind: KindInvalidTransition, Message: msg, ID: &id}
}

func staleState(id uuid.UUID) *Error {
	return &Error{Kind: KindStaleState, Message: ErrStaleState.Message, ID: &id}
}

func forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// KindOf returns the kind of a structured error, or "" for unexpected failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
