package gwerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// congestionMessage replaces low-level connection failure details so
// infrastructure specifics never reach a merchant.
const congestionMessage = "Network congestion, please try again later"

// Error is the tagged gateway failure. It carries the service code of the
// route being processed (empty until routing has resolved one), the result
// code, and a message safe to return to the client.
type Error struct {
	ServiceCode string
	Code        Code
	Message     string
	Cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ServiceCode != "" {
		return fmt.Sprintf("gateway error [service=%s code=%d]: %s", e.ServiceCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway error [code=%d]: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error, or an *Error with the same code.
func (e *Error) Is(target error) bool {
	var ge *Error
	if !errors.As(target, &ge) {
		return false
	}
	return ge.Code == 0 || ge.Code == e.Code
}

// New creates an Error with the code's default message.
func New(code Code) *Error {
	return &Error{Code: code, Message: code.Message()}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error keeping the cause for logs while exposing only msg.
func Wrap(code Code, msg string, cause error) *Error {
	if msg == "" {
		msg = code.Message()
	}
	return &Error{Code: code, Message: msg, Cause: cause}
}

// WithService returns a copy tagged with the resolved service code.
func (e *Error) WithService(serviceCode string) *Error {
	clone := *e
	clone.ServiceCode = serviceCode
	return &clone
}

// BadRequest reports a missing or malformed request field.
func BadRequest(field string) *Error {
	return Newf(CodeBadRequest, "Bad Request: %s", field)
}

// Unauthorized reports an authentication failure.
func Unauthorized(msg string) *Error {
	if msg == "" {
		msg = CodeUnauthorized.Message()
	}
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// Forbidden reports an authorization failure.
func Forbidden(msg string) *Error {
	if msg == "" {
		msg = CodeForbidden.Message()
	}
	return &Error{Code: CodeForbidden, Message: msg}
}

// ServerError reports an internal failure with a client-safe message.
func ServerError(msg string) *Error {
	if msg == "" {
		msg = CodeServerError.Message()
	}
	return &Error{Code: CodeServerError, Message: msg}
}

// From translates an arbitrary error into a gateway Error. Existing
// gateway errors pass through; connection-level failures are scrubbed to a
// generic message; everything else becomes a SERVER_ERROR.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}

	if isConnectionError(err) {
		return Wrap(CodeServerError, congestionMessage, err)
	}

	return Wrap(CodeServerError, err.Error(), err)
}

// isConnectionError reports whether err is a low-level dial/timeout
// failure whose detail must not leak to the client.
func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host")
}
