// Package envelope builds the gateway's uniform JSON response: upstream
// payload normalization, error envelopes and the fixed response headers.
package envelope

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/paysphere/sphere-gateway/internal/gwerr"
)

// Response header names.
const (
	HeaderContentType = "Content-Type"
	HeaderTimestamp   = "X-TIMESTAMP"
	HeaderOrigin      = "ORIGIN"
)

const contentTypeJSON = "application/json"

// Result is the gateway envelope every response body conforms to.
type Result struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	TraceID string      `json:"traceId,omitempty"`
}

// Builder produces envelopes and stamps the mandatory response headers.
type Builder struct {
	origin          string
	timestampFormat string
	now             func() time.Time
	newTraceID      func() string
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithTraceIDFunc overrides trace id generation. Used by tests.
func WithTraceIDFunc(fn func() string) Option {
	return func(b *Builder) {
		b.newTraceID = fn
	}
}

// NewBuilder creates a Builder. origin is the fixed ORIGIN header value and
// timestampFormat the layout for the fresh X-TIMESTAMP stamp.
func NewBuilder(origin, timestampFormat string, opts ...Option) *Builder {
	b := &Builder{
		origin:          origin,
		timestampFormat: timestampFormat,
		now:             time.Now,
		newTraceID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// stampHeaders sets the mandatory headers on every gateway response. The
// timestamp is generated at write time, never echoed from the request.
func (b *Builder) stampHeaders(w http.ResponseWriter) {
	w.Header().Set(HeaderContentType, contentTypeJSON)
	w.Header().Set(HeaderTimestamp, b.now().Format(b.timestampFormat))
	w.Header().Set(HeaderOrigin, b.origin)
}

// WriteError writes a gateway error envelope. The HTTP status derives from
// the result code.
func (b *Builder) WriteError(w http.ResponseWriter, ge *gwerr.Error) {
	b.stampHeaders(w)
	w.WriteHeader(ge.Code.HTTPStatus())

	_ = json.NewEncoder(w).Encode(Result{
		Code:    int(ge.Code),
		Message: ge.Message,
		TraceID: b.newTraceID(),
	})
}

// WriteUpstream normalizes an upstream response and writes it. The upstream
// payload must be a JSON object whose platform code, if present, is 200;
// anything else is surfaced as a server error carrying the platform's
// message.
func (b *Builder) WriteUpstream(w http.ResponseWriter, status int, body []byte) {
	normalized, ge := b.normalize(status, body)
	if ge != nil {
		b.WriteError(w, ge)
		return
	}

	b.stampHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(normalized)
}

// platformOK is the payment platform's success code inside its envelope.
const platformOK = 200

func (b *Builder) normalize(status int, body []byte) ([]byte, *gwerr.Error) {
	if status != http.StatusOK {
		return nil, gwerr.ServerError(extractMessage(body))
	}
	if len(body) == 0 {
		return nil, gwerr.ServerError("")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, gwerr.ServerError("")
	}

	if raw, ok := payload["code"]; ok {
		code, isNumber := raw.(float64)
		if !isNumber || int(code) != platformOK {
			return nil, gwerr.ServerError(extractMessage(body))
		}
	}

	payload["code"] = int(gwerr.CodeSuccess)
	if _, ok := payload["message"]; !ok {
		payload["message"] = gwerr.CodeSuccess.Message()
	}
	payload["traceId"] = b.newTraceID()

	normalized, err := json.Marshal(payload)
	if err != nil {
		return nil, gwerr.ServerError("")
	}
	return normalized, nil
}

// extractMessage pulls the platform's message field out of a failed
// response body, if there is one.
func extractMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}
