package merchant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/paysphere/sphere-gateway/internal/gwerr"
	"github.com/paysphere/sphere-gateway/internal/observability"
	"github.com/paysphere/sphere-gateway/internal/route"
)

const merchantTracerName = "sphere-gateway/merchant"

// rpcResult is the envelope the config service wraps every response in.
type rpcResult struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client fetches merchant credentials from the payment platform's config
// RPC. A circuit breaker sheds load when the platform is down so auth
// failures surface quickly instead of piling up on a dead upstream.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a config RPC client against the given base URL.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "merchant-config",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejections tagged with a gateway code are business outcomes
		// (unknown merchant), not platform failures; they must not trip
		// the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var ge *gwerr.Error
			return errors.As(err, &ge)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("merchant config breaker state change",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
	})

	return c
}

// rpcPath returns the config RPC path for the environment.
func rpcPath(env route.Environment) string {
	if env == route.Sandbox {
		return "/sandbox/v1/getMerchantConfig"
	}
	return "/v1/getMerchantConfig"
}

// Fetch retrieves the credential for a merchant from the config service.
// An unknown merchant yields an unauthorized gateway error; transport and
// platform failures yield server errors.
func (c *Client) Fetch(ctx context.Context, env route.Environment, merchantID string) (*Credential, error) {
	ctx, span := otel.Tracer(merchantTracerName).Start(ctx, "merchant.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("merchant.id", merchantID),
			attribute.String("merchant.env", env.String()),
		),
	)
	defer span.End()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doFetch(ctx, env, merchantID)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		c.logger.Error("merchant config fetch failed",
			observability.String("merchantId", merchantID),
			observability.String("env", env.String()),
			observability.Error(err))
		return nil, err
	}

	return result.(*Credential), nil
}

func (c *Client) doFetch(ctx context.Context, env route.Environment, merchantID string) (*Credential, error) {
	payload, err := json.Marshal(map[string]string{"merchantId": merchantID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+rpcPath(env), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("merchant config rpc returned status %d", resp.StatusCode)
	}

	var result rpcResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("merchant config rpc returned malformed body: %w", err)
	}

	// A 5xx inside the envelope is a platform failure, not a merchant
	// rejection; it must read as a server error and count against the
	// breaker, so it stays untagged.
	if result.Code >= http.StatusInternalServerError {
		return nil, fmt.Errorf("merchant config rpc failed with code %d: %s", result.Code, result.Message)
	}

	if result.Code != http.StatusOK {
		return nil, gwerr.Newf(gwerr.CodeUnauthorized, "merchant config rejected: %s", result.Message)
	}

	if len(result.Data) == 0 || string(result.Data) == "null" {
		return nil, gwerr.Newf(gwerr.CodeUnauthorized, "merchant %s not found", merchantID)
	}

	cred, err := UnmarshalCredential(result.Data)
	if err != nil {
		return nil, fmt.Errorf("merchant config rpc returned malformed credential: %w", err)
	}

	// A config entry without a secret cannot authenticate anything; treat
	// it the same as an unknown merchant.
	if !cred.Valid() {
		return nil, gwerr.Newf(gwerr.CodeUnauthorized, "merchant %s has no signing secret", merchantID)
	}

	return cred, nil
}
