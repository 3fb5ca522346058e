// Package apperr defines the single error type carried from the attendance
// service, across the RPC boundary, to the HTTP edge.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for status mapping.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotFound
	KindConflict
	KindUnavailable
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// statusByKind is the one mapping from kind to external status code.
var statusByKind = map[Kind]int{
	KindUnknown:         http.StatusInternalServerError,
	KindInvalidArgument: http.StatusBadRequest,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindUnavailable:     http.StatusServiceUnavailable,
	KindTimeout:         http.StatusGatewayTimeout,
}

// StatusFor returns the status code for a kind.
func StatusFor(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// KindForStatus is the inverse of StatusFor. Codes outside the table map to
// KindUnknown.
func KindForStatus(status int) Kind {
	for k, s := range statusByKind {
		if s == status && k != KindUnknown {
			return k
		}
	}
	return KindUnknown
}

// Error is the tagged error variant.
type Error struct {
	Kind    Kind
	Op      string // RPC operation, set by the client for transport failures
	Message string // safe to show to callers
	Status  int    // overrides the kind's status when non-zero
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the external status for this error.
func (e *Error) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return StatusFor(e.Kind)
}

// New builds an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func InvalidArgument(msg string) *Error { return New(KindInvalidArgument, msg) }
func NotFound(msg string) *Error        { return New(KindNotFound, msg) }
func Conflict(msg string) *Error        { return New(KindConflict, msg) }

// Remote rebuilds an error reported by the far side of an RPC call. The
// status code is preserved verbatim.
func Remote(op, msg string, status int) *Error {
	return &Error{Kind: KindForStatus(status), Op: op, Message: msg, Status: status}
}

// KindOf reports the kind of err, or KindUnknown when err carries no *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// Public returns the status code and message that may be shown outside the
// process. Errors that are not *Error never leak their text.
func Public(err error) (int, string) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, "Internal server error"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode())
	}
	return e.StatusCode(), msg
}
