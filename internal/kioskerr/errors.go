// Package kioskerr defines the error taxonomy shared by the kiosk core.
//
// Business outcomes such as a stock shortfall or an expired payment are
// reported with these typed errors (or encoded as statuses) and are never
// fatal. Callers classify errors with the Is* helpers, which unwrap through
// fmt.Errorf("%w") chains.
package kioskerr

import (
	"errors"
	"fmt"
)

// Code categorizes kiosk errors.
type Code string

const (
	// CodeNotFound indicates an unknown item, order, or token.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInsufficientStock indicates a reservation larger than the available quantity.
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"

	// CodeRemoteUnavailable indicates the remote store could not be reached
	// or refused a write after the retry budget was spent.
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE"

	// CodeSessionExpired indicates a payment session passed its deadline.
	CodeSessionExpired Code = "SESSION_EXPIRED"

	// CodeDenied indicates an admin authentication failure.
	CodeDenied Code = "DENIED"

	// CodeInconsistent indicates a batch that was only partially applied remotely.
	CodeInconsistent Code = "INCONSISTENT"
)

// Error is a classified kiosk error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description safe to show at the kiosk.
	Message string

	// Entity names the kind of thing involved ("item", "order", "session").
	Entity string

	// ID identifies the entity instance, when known.
	ID string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var s string
	if e.ID != "" {
		s = fmt.Sprintf("%s: %s (%s=%s)", e.Code, e.Message, e.Entity, e.ID)
	} else {
		s = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}

func is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsInsufficientStock reports whether err is an INSUFFICIENT_STOCK error.
func IsInsufficientStock(err error) bool { return is(err, CodeInsufficientStock) }

// IsRemoteUnavailable reports whether err is a REMOTE_UNAVAILABLE error.
func IsRemoteUnavailable(err error) bool { return is(err, CodeRemoteUnavailable) }

// IsSessionExpired reports whether err is a SESSION_EXPIRED error.
func IsSessionExpired(err error) bool { return is(err, CodeSessionExpired) }

// IsDenied reports whether err is a DENIED error.
func IsDenied(err error) bool { return is(err, CodeDenied) }

// IsInconsistent reports whether err is an INCONSISTENT error.
func IsInconsistent(err error) bool { return is(err, CodeInconsistent) }

// NotFound creates a NOT_FOUND error for the given entity.
func NotFound(entity, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: entity + " not found",
		Entity:  entity,
		ID:      id,
	}
}

// InsufficientStock creates an INSUFFICIENT_STOCK error.
func InsufficientStock(id string, requested, available int) *Error {
	return &Error{
		Code:    CodeInsufficientStock,
		Message: fmt.Sprintf("requested %d, only %d available", requested, available),
		Entity:  "item",
		ID:      id,
	}
}

// RemoteUnavailable wraps a remote-store failure.
func RemoteUnavailable(op string, err error) *Error {
	return &Error{
		Code:    CodeRemoteUnavailable,
		Message: op + " failed",
		Err:     err,
	}
}

// SessionExpired creates a SESSION_EXPIRED error for a payment token.
func SessionExpired(token string) *Error {
	return &Error{
		Code:    CodeSessionExpired,
		Message: "payment session expired",
		Entity:  "session",
		ID:      token,
	}
}

// Denied creates a DENIED error.
func Denied(message string) *Error {
	return &Error{
		Code:    CodeDenied,
		Message: message,
	}
}

// Inconsistent creates an INCONSISTENT error describing a partially applied batch.
func Inconsistent(written, failed int, err error) *Error {
	return &Error{
		Code:    CodeInconsistent,
		Message: fmt.Sprintf("batch partially applied (%d written, %d re-queued)", written, failed),
		Err:     err,
	}
}
