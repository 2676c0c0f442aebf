package app

import "errors"

// Code classifies operation failures for the transport layer.
type Code string

const (
	CodeUnauthenticated Code = "unauthenticated"
	CodeUnauthorized    Code = "unauthorized"
	CodeNotFound        Code = "not_found"
	CodeValidation      Code = "validation_error"
	CodeConflict        Code = "conflict"
	CodeUpstream        Code = "upstream_error"
	CodeRateLimited     Code = "rate_limited"
)

// ReasonNotParticipant marks actors that are not connected members of the
// room they try to act on. Role-level denial reasons come from authz.
const ReasonNotParticipant = "not_participant"

// Error is the typed failure resolved at the coordinator boundary.
// Validation and authorization failures are returned synchronously as
// these; upstream failures are wrapped generically so internal detail never
// leaks to callers.
type Error struct {
	Code    Code
	Reason  string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func notFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

func conflict(message string) *Error {
	return &Error{Code: CodeConflict, Message: message}
}

func unauthorized(reason, message string) *Error {
	return &Error{Code: CodeUnauthorized, Reason: reason, Message: message}
}

// AsError extracts the typed operation error, if any.
func AsError(err error) (*Error, bool) {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr, true
	}
	return nil, false
}
