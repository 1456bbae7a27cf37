package ierr

import (
	"errors"
	"net/http"
)

type ErrorCode string

const (
	ErrorCodeInvalidArgument  ErrorCode = "InvalidArgument"
	ErrorCodePermissionDenied ErrorCode = "PermissionDenied"
	ErrorCodeUnauthenticated  ErrorCode = "Unauthenticated"
	ErrorCodeUnavailable      ErrorCode = "Unavailable"
	ErrorCodeInternal         ErrorCode = "Internal"
)

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	cause error
}

func New(code ErrorCode, cause error) Error {
	return Error{
		Code:    code,
		Message: cause.Error(),
		cause:   cause,
	}
}

func (e Error) Error() string {
	return string(e.Code) + ": " + e.cause.Error()
}

func (e Error) Unwrap() error {
	return e.cause
}

// CodeOf returns the code carried by err, or ErrorCodeInternal when err is
// not an Error.
func CodeOf(err error) ErrorCode {
	var ierrErr Error
	if errors.As(err, &ierrErr) {
		return ierrErr.Code
	}

	return ErrorCodeInternal
}

func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrorCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrorCodePermissionDenied:
		return http.StatusForbidden
	case ErrorCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrorCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
