// Package errors holds the request error taxonomy and maps any error onto
// an HTTP status plus a short, caller-safe message.
package errors

import (
	"context"
	"errors"
	"net/http"

	"gorm.io/gorm"
)

// Kind classifies a failure for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindInvalidRequest
	KindForbidden
	KindQuotaExceeded
	KindUpstreamUnavailable
	KindNotFound
)

// Error is a taxonomy error. Msg is safe to show to callers; Err is the
// wrapped cause and is only ever logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Unauthorized(msg string) error   { return &Error{Kind: KindUnauthorized, Msg: msg} }
func InvalidRequest(msg string) error { return &Error{Kind: KindInvalidRequest, Msg: msg} }
func Forbidden(msg string) error      { return &Error{Kind: KindForbidden, Msg: msg} }
func QuotaExceeded(msg string) error  { return &Error{Kind: KindQuotaExceeded, Msg: msg} }
func NotFound(msg string) error       { return &Error{Kind: KindNotFound, Msg: msg} }

// Upstream wraps a datastore/collaborator failure.
func Upstream(msg string, err error) error {
	return &Error{Kind: KindUpstreamUnavailable, Msg: msg, Err: err}
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Map converts service/repo/infra errors into an HTTP status and message.
// Keeps handlers clean by centralizing error mapping. Unknown errors never
// leak their text.
func Map(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindUnauthorized:
			return http.StatusUnauthorized, e.Msg
		case KindInvalidRequest:
			return http.StatusBadRequest, e.Msg
		case KindForbidden:
			return http.StatusForbidden, e.Msg
		case KindQuotaExceeded:
			return http.StatusTooManyRequests, e.Msg
		case KindNotFound:
			return http.StatusNotFound, e.Msg
		case KindUpstreamUnavailable:
			return http.StatusInternalServerError, e.Msg
		}
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, "record not found"

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError, "request timed out"

	case errors.Is(err, context.Canceled):
		return http.StatusInternalServerError, "request was canceled"

	default:
		return http.StatusInternalServerError, "internal error"
	}
}
