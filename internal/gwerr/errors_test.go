package gwerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		code Code
		want int
	}{
		{"success", CodeSuccess, http.StatusOK},
		{"in progress", CodeInProgress, http.StatusOK},
		{"bad request", CodeBadRequest, http.StatusBadRequest},
		{"unauthorized", CodeUnauthorized, http.StatusUnauthorized},
		{"forbidden", CodeForbidden, http.StatusForbidden},
		{"not found", CodeNotFound, http.StatusNotFound},
		{"too many requests", CodeTooManyRequests, http.StatusTooManyRequests},
		{"server error", CodeServerError, http.StatusInternalServerError},
		{"unknown prefix falls back to 500", Code(9999), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := Unauthorized("signature invalid")

	assert.True(t, errors.Is(err, &Error{Code: CodeUnauthorized}))
	assert.False(t, errors.Is(err, &Error{Code: CodeBadRequest}))
	assert.True(t, errors.Is(err, &Error{}), "zero code matches any gateway error")
}

func TestFromPassesGatewayErrorsThrough(t *testing.T) {
	orig := BadRequest("X-TIMESTAMP")
	wrapped := fmt.Errorf("filter failed: %w", orig)

	got := From(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, CodeBadRequest, got.Code)
	assert.Equal(t, "Bad Request: X-TIMESTAMP", got.Message)
}

func TestFromScrubsConnectionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"op error", &net.OpError{Op: "dial", Err: errors.New("connect: connection refused")}},
		{"deadline", context.DeadlineExceeded},
		{"refused text", errors.New("dial tcp 10.0.0.1:80: connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := From(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, CodeServerError, got.Code)
			assert.Equal(t, congestionMessage, got.Message)
		})
	}
}

func TestFromUnknownErrorBecomesServerError(t *testing.T) {
	got := From(errors.New("boom"))
	require.NotNil(t, got)
	assert.Equal(t, CodeServerError, got.Code)
	assert.Equal(t, "boom", got.Message)
}

func TestWithService(t *testing.T) {
	err := New(CodeNotFound).WithService("12")
	assert.Equal(t, "12", err.ServiceCode)
	assert.Contains(t, err.Error(), "service=12")
}
