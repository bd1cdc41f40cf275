// Package failure classifies failed calls into a closed set of categories with
// stable, user-facing messages.
package failure

import (
	"errors"
	"fmt"
)

// Category is the closed set of failure kinds surfaced to callers.
type Category string

const (
	CategoryTransientNetwork Category = "transient_network"
	CategoryCredential       Category = "credential"
	CategoryAuthorization    Category = "authorization"
	CategoryServer           Category = "server"
	CategoryConflict         Category = "conflict"
	CategoryValidation       Category = "validation"
	CategoryGeneric          Category = "generic"
)

// Tone tells the presentation layer how to render a failure.
type Tone string

const (
	ToneError   Tone = "error"
	ToneWarning Tone = "warning"
)

// Default messages.
const (
	MsgTransientNetwork = "Could not reach the server. Please try again."
	MsgAccountNotFound  = "Account not found."
	MsgWrongRole        = "Wrong role for this account."
	MsgCredential       = "Your session is not valid. Please sign in again."
	MsgAuthorization    = "You do not have permission to do that."
	MsgServer           = "The service is temporarily unavailable. Please try again later."
	MsgMalformed        = "Received an unexpected response from the server."
	MsgSignInRequired   = "Please sign in first."
)

// Error is the only error type surfaced to callers of the engine.
type Error struct {
	Category Category
	Message  string
	Tone     Tone
	Status   int    // HTTP status when the failure came from a response
	Op       string // operation label, e.g. "Create race"
	Err      error  // underlying cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// As extracts a classified failure from err.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsCategory reports whether err is a classified failure of category c.
func IsCategory(err error, c Category) bool {
	fe, ok := As(err)
	return ok && fe.Category == c
}

// Validation builds a local input failure raised before any network call.
func Validation(op string, cause error) *Error {
	msg := "Invalid input."
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Category: CategoryValidation, Message: msg, Tone: ToneError, Op: op, Err: cause}
}

// SignInRequired builds the failure returned when no valid credential is held.
func SignInRequired(op string) *Error {
	return &Error{Category: CategoryCredential, Message: MsgSignInRequired, Tone: ToneError, Op: op, Err: ErrNoCredential}
}

// Generic builds a generic failure with an explicit message.
func Generic(op, msg string, cause error) *Error {
	return &Error{Category: CategoryGeneric, Message: msg, Tone: ToneError, Op: op, Err: cause}
}
