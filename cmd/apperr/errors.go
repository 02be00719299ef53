// Package apperr holds the error taxonomy shared by the HTTP handlers and the
// services behind them. Each kind wraps an optional cause and maps to one
// HTTP status through Status.
package apperr

import (
	"errors"
	"net/http"
)

type cause struct {
	msg string
	err error
}

func (c cause) Error() string {
	if c.err == nil {
		return c.msg
	}
	if c.msg == "" {
		return c.err.Error()
	}
	return c.msg + ": " + c.err.Error()
}

func (c cause) Unwrap() error { return c.err }

// Message is the client-facing part of the error, without the wrapped cause.
func (c cause) Message() string {
	if c.msg == "" && c.err != nil {
		return c.err.Error()
	}
	return c.msg
}

// InvalidInputError reports a request the caller can fix (bad date, bad duration, missing field).
type InvalidInputError struct{ cause }

// NotFoundError reports a missing record the operation depends on.
type NotFoundError struct{ cause }

// CollaboratorError reports a failed call to the database, object storage or the captioning service.
type CollaboratorError struct{ cause }

// ConflictError reports a write that lost against existing state, e.g. a slot that is already booked.
type ConflictError struct{ cause }

// UnauthorizedError reports missing or invalid credentials.
type UnauthorizedError struct{ cause }

// ForbiddenError reports an authenticated caller acting outside its role or ownership.
type ForbiddenError struct{ cause }

func InvalidInput(msg string, err error) error { return &InvalidInputError{cause{msg, err}} }
func NotFound(msg string, err error) error     { return &NotFoundError{cause{msg, err}} }
func Collaborator(msg string, err error) error { return &CollaboratorError{cause{msg, err}} }
func Conflict(msg string, err error) error     { return &ConflictError{cause{msg, err}} }
func Unauthorized(msg string, err error) error { return &UnauthorizedError{cause{msg, err}} }
func Forbidden(msg string, err error) error    { return &ForbiddenError{cause{msg, err}} }

// Status maps err to the HTTP status the API answers with.
func Status(err error) int {
	var (
		invalid      *InvalidInputError
		notFound     *NotFoundError
		collaborator *CollaboratorError
		conflict     *ConflictError
		unauthorized *UnauthorizedError
		forbidden    *ForbiddenError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &collaborator):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show to API clients. Unclassified
// errors are reduced to a generic message so internals do not leak.
func PublicMessage(err error) string {
	var m interface{ Message() string }
	if errors.As(err, &m) {
		return m.Message()
	}
	return "internal server error"
}
