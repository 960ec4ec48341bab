package errors

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Standard error codes shared across the library. Packages that need more
// specific codes (see pkg/eventbus/errors.go) define their own constants
// following the same naming convention.
const (
	CodeInternal        = "INTERNAL"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeUnavailable     = "UNAVAILABLE"
	CodeTimeout         = "TIMEOUT"
	CodeUnsupported     = "UNSUPPORTED"
)

// AppError is the structured error type used throughout the system-design
// library. It carries a stable machine-readable code, a human-readable
// message, and (optionally) the underlying cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// New creates an AppError. err may be nil.
func New(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Wrap attaches a message to err, preserving its code if it is already an
// AppError, otherwise tagging it CodeInternal.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	code := CodeInternal
	var ae *AppError
	if errors.As(err, &ae) {
		code = ae.Code
	}
	return &AppError{Code: code, Message: message, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap lets AppError participate in errors.Is/errors.As chains.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is and As are re-exported so callers don't need to import both this
// package and the standard errors package side by side.
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode returns the AppError code for err, or "" if err is nil or not
// (wrapping) an AppError.
func GetCode(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}

// HTTPStatus projects an AppError's code to an HTTP status code, for
// handlers that surface library errors over REST.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnsupported:
		return http.StatusNotImplemented
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode projects an AppError's code to a gRPC status code, for services
// that surface library errors over gRPC.
func GRPCCode(err error) codes.Code {
	switch GetCode(err) {
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeAlreadyExists:
		return codes.AlreadyExists
	case CodeUnavailable:
		return codes.Unavailable
	case CodeTimeout:
		return codes.DeadlineExceeded
	case CodeUnsupported:
		return codes.Unimplemented
	case "":
		return codes.OK
	default:
		return codes.Internal
	}
}
