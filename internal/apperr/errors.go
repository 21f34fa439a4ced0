// Package apperr defines the error taxonomy shared across the booking engine.
//
// Every network-originating failure is mapped to one of these types at the
// boundary where the call is made; callers branch on the type to pick the
// recovery path (inline message, toast, fallback, retry).
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError is a local failure: malformed time, out-of-hours slot,
// too-short duration. No network call happened.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a field.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError means the candidate slot collides with an existing booking,
// either by direct overlap or by violating the turnover buffer. The
// conflicting window is carried so the message can name it.
type ConflictError struct {
	Reason string
	Start  string
	End    string
	Status string
}

func (e *ConflictError) Error() string {
	if e.Start != "" {
		return fmt.Sprintf("%s (conflicts with %s–%s %s)", e.Reason, e.Start, e.End, e.Status)
	}
	return e.Reason
}

// NotFoundError is a 404 from the backend. Several list endpoints use it as
// an empty-result signal rather than a failure; callers branch with IsNotFound.
type NotFoundError struct {
	ServerMessage string
}

func (e *NotFoundError) Error() string {
	if e.ServerMessage != "" {
		return fmt.Sprintf("not found: %s", e.ServerMessage)
	}
	return "not found"
}

// AuthExpiredError means the bearer token is missing, expired or was rejected.
type AuthExpiredError struct {
	ServerMessage string
}

func (e *AuthExpiredError) Error() string {
	if e.ServerMessage != "" {
		return e.ServerMessage
	}
	return "session expired, please sign in again"
}

// PermissionError is a 403-class failure: the token is valid but the action
// is not allowed. Surfaced as a transient banner, never clears the session.
type PermissionError struct {
	ServerMessage string
}

func (e *PermissionError) Error() string {
	if e.ServerMessage != "" {
		return e.ServerMessage
	}
	return "you do not have permission to perform this action"
}

// UpstreamUnavailable means a backend service (pricing, availability) failed
// in a way the engine degrades around rather than blocks on.
type UpstreamUnavailable struct {
	Service string
	Err     error
}

func (e *UpstreamUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s unavailable", e.Service)
}

func (e *UpstreamUnavailable) Unwrap() error { return e.Err }

// PartialSuccess reports a booking that was created while a follow-up step
// failed. The booking is kept; the failure is a warning, not an error.
type PartialSuccess struct {
	BookingID int64
	Step      string
	Err       error
}

func (e *PartialSuccess) Error() string {
	return fmt.Sprintf("booking %d created but %s failed: %v", e.BookingID, e.Step, e.Err)
}

func (e *PartialSuccess) Unwrap() error { return e.Err }

// SubmissionError is a fatal booking-creation failure. No partial state
// exists; the form stays editable for retry.
type SubmissionError struct {
	ServerMessage string
	Err           error
}

func (e *SubmissionError) Error() string {
	if e.ServerMessage != "" {
		return e.ServerMessage
	}
	if e.Err != nil {
		return fmt.Sprintf("booking could not be created: %v", e.Err)
	}
	return "booking could not be created, please try again"
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsAuthExpired reports whether err is (or wraps) an AuthExpiredError.
func IsAuthExpired(err error) bool {
	var target *AuthExpiredError
	return errors.As(err, &target)
}

// IsPermission reports whether err is (or wraps) a PermissionError.
func IsPermission(err error) bool {
	var target *PermissionError
	return errors.As(err, &target)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsUpstreamUnavailable reports whether err is (or wraps) an UpstreamUnavailable.
func IsUpstreamUnavailable(err error) bool {
	var target *UpstreamUnavailable
	return errors.As(err, &target)
}

// UserMessage returns the text shown to the user for err, preferring a
// server-supplied message when one was captured.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		auth       *AuthExpiredError
		perm       *PermissionError
		submission *SubmissionError
		upstream   *UpstreamUnavailable
	)
	switch {
	case errors.As(err, &auth):
		return "session expired, please sign in again"
	case errors.As(err, &perm):
		if perm.ServerMessage != "" {
			return perm.ServerMessage
		}
		return perm.Error()
	case errors.As(err, &submission):
		if submission.ServerMessage != "" {
			return submission.ServerMessage
		}
		return "booking could not be created, please try again"
	case errors.As(err, &upstream):
		return fmt.Sprintf("%s is temporarily unavailable", upstream.Service)
	}
	return err.Error()
}
