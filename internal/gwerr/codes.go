// Package gwerr defines the gateway error taxonomy and the central mapping
// from errors to the uniform response envelope.
package gwerr

import "net/http"

// Code is a machine-readable gateway result code. Codes are four digits;
// the first three double as the HTTP status to return, so clients and the
// error handler derive the status from the code alone.
type Code int

// Gateway result codes.
const (
	CodeSuccess         Code = 2000
	CodeInProgress      Code = 2001
	CodeBadRequest      Code = 4000
	CodeUnauthorized    Code = 4010
	CodeForbidden       Code = 4030
	CodeNotFound        Code = 4040
	CodeTooManyRequests Code = 4290
	CodeServerError     Code = 5000
)

// HTTPStatus returns the HTTP status encoded in the code's leading three
// digits. Codes that do not encode a known status map to 500.
func (c Code) HTTPStatus() int {
	status := int(c) / 10
	if http.StatusText(status) == "" {
		return http.StatusInternalServerError
	}
	return status
}

// Message returns the default human-readable message for the code.
func (c Code) Message() string {
	switch c {
	case CodeSuccess:
		return "Successful"
	case CodeInProgress:
		return "Request In Progress"
	case CodeBadRequest:
		return "Bad Request"
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeForbidden:
		return "Forbidden"
	case CodeNotFound:
		return "Not Found"
	case CodeTooManyRequests:
		return "Too Many Requests"
	case CodeServerError:
		return "Internal Server Error"
	default:
		return "Internal Server Error"
	}
}
