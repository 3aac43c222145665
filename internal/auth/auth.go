// Package auth implements the request authentication protocol: header
// presence checks, timestamp drift, JWT verification, merchant credential
// resolution and the HMAC signature check.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/paysphere/sphere-gateway/internal/gwerr"
	"github.com/paysphere/sphere-gateway/internal/merchant"
	"github.com/paysphere/sphere-gateway/internal/observability"
	"github.com/paysphere/sphere-gateway/internal/route"
	"github.com/paysphere/sphere-gateway/internal/sign"
)

const authTracerName = "sphere-gateway/auth"

// bearerPrefix is the required Authorization scheme.
const bearerPrefix = "Bearer "

// CredentialResolver looks up the signing credential for a merchant.
type CredentialResolver interface {
	Resolve(ctx context.Context, env route.Environment, merchantID string) (*merchant.Credential, error)
}

// Request carries the already-buffered pieces of an inbound request that
// the protocol signs over or checks.
type Request struct {
	// Path is the original request path, before any upstream rewrite.
	Path string

	// Host is the inbound Host header.
	Host string

	// ContentType is the Content-Type header.
	ContentType string

	// Authorization is the raw Authorization header, "Bearer <jwt>".
	Authorization string

	// Timestamp is the X-TIMESTAMP header.
	Timestamp string

	// Signature is the X-SIGNATURE header.
	Signature string

	// PartnerID is the X-PARTNER-ID header.
	PartnerID string

	// ClientIP is the resolved caller address.
	ClientIP string

	// Body is the buffered request body.
	Body []byte

	// Env is the environment the Host header resolved to.
	Env route.Environment

	// Route is the resolved service route.
	Route route.ServiceRoute
}

// Authenticator validates signed requests against merchant credentials.
type Authenticator struct {
	resolver        CredentialResolver
	jwtKey          []byte
	timestampFormat string
	maxDrift        time.Duration
	logger          observability.Logger
	now             func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// New creates an Authenticator. jwtSecret is the shared secret whose SHA-256
// hex digest is the HS256 verification key.
func New(resolver CredentialResolver, jwtSecret, timestampFormat string, maxDrift time.Duration, opts ...Option) *Authenticator {
	a := &Authenticator{
		resolver:        resolver,
		jwtKey:          sign.JWTKey(jwtSecret),
		timestampFormat: timestampFormat,
		maxDrift:        maxDrift,
		logger:          observability.NopLogger(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate runs the full protocol and returns the merchant credential
// on success. Checks run in a fixed order and the first failure wins, so a
// request missing several headers is always reported against the same one.
func (a *Authenticator) Authenticate(ctx context.Context, req *Request) (*merchant.Credential, error) {
	ctx, span := otel.Tracer(authTracerName).Start(ctx, "auth.Authenticate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("auth.partner_id", req.PartnerID),
			attribute.String("auth.path", req.Path),
		),
	)
	defer span.End()

	if req.Host == "" {
		return nil, gwerr.BadRequest("Host")
	}
	if req.ContentType == "" {
		return nil, gwerr.BadRequest("Content-Type")
	}
	if req.Authorization == "" {
		return nil, gwerr.BadRequest("Authorization")
	}
	if !strings.HasPrefix(req.Authorization, bearerPrefix) {
		return nil, gwerr.BadRequest("Authorization")
	}
	if req.Timestamp == "" {
		return nil, gwerr.BadRequest("X-TIMESTAMP")
	}
	if req.Signature == "" {
		return nil, gwerr.BadRequest("X-SIGNATURE")
	}
	if req.PartnerID == "" {
		return nil, gwerr.BadRequest("X-PARTNER-ID")
	}

	if err := a.checkTimestamp(req.Timestamp); err != nil {
		return nil, err
	}

	token := strings.TrimPrefix(req.Authorization, bearerPrefix)
	if err := a.verifyJWT(token); err != nil {
		a.logger.Debug("jwt verification failed",
			observability.String("partnerId", req.PartnerID),
			observability.Error(err))
		return nil, gwerr.Unauthorized("invalid token")
	}

	cred, err := a.resolver.Resolve(ctx, req.Env, req.PartnerID)
	if err != nil {
		return nil, err
	}

	if !cred.AllowsIP(req.ClientIP) {
		a.logger.Warn("client ip not in whitelist",
			observability.String("partnerId", req.PartnerID),
			observability.String("ip", req.ClientIP))
		return nil, gwerr.Forbidden("ip not allowed")
	}

	if req.Env == route.Production && cred.Expired(a.now()) {
		return nil, gwerr.Unauthorized("credential expired")
	}

	if req.Route.RequiresPayout && !cred.CanPayout() {
		return nil, gwerr.Forbidden("payout not enabled")
	}

	if !sign.Verify(req.Path, token, string(req.Body), req.Timestamp, cred.Secret, req.Signature) {
		a.logger.Warn("signature mismatch",
			observability.String("partnerId", req.PartnerID),
			observability.String("path", req.Path))
		return nil, gwerr.Unauthorized("invalid signature")
	}

	span.SetAttributes(attribute.Bool("auth.ok", true))
	return cred, nil
}

// checkTimestamp parses X-TIMESTAMP and enforces the drift window in both
// directions.
func (a *Authenticator) checkTimestamp(value string) error {
	ts, err := time.Parse(a.timestampFormat, value)
	if err != nil {
		return gwerr.Newf(gwerr.CodeBadRequest, "invalid timestamp format")
	}

	drift := a.now().Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > a.maxDrift {
		return gwerr.Newf(gwerr.CodeBadRequest, "Timestamp expired")
	}
	return nil
}

// verifyJWT checks the token's HS256 signature and registered time claims.
func (a *Authenticator) verifyJWT(token string) error {
	_, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, a.jwtKey),
		jwt.WithValidate(true),
	)
	return err
}
