package docstore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the expected, caller-recoverable failures of the
// document service.
type ErrorKind string

const (
	KindUnauthorized       ErrorKind = "Unauthorized"
	KindNotFound           ErrorKind = "NotFound"
	KindConflict           ErrorKind = "Conflict"
	KindValidation         ErrorKind = "ValidationError"
	KindPreconditionFailed ErrorKind = "PreconditionFailed"
	KindBadRequest         ErrorKind = "BadRequest"
)

// Error is a classified failure. Anything that is not an *Error is an
// internal failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...any) error {
	return newError(KindUnauthorized, format, args...)
}

func NotFoundf(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

func Conflictf(format string, args ...any) error {
	return newError(KindConflict, format, args...)
}

func Validationf(format string, args ...any) error {
	return newError(KindValidation, format, args...)
}

func PreconditionFailedf(format string, args ...any) error {
	return newError(KindPreconditionFailed, format, args...)
}

func BadRequestf(format string, args ...any) error {
	return newError(KindBadRequest, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
