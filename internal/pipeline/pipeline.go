// Package pipeline runs every gateway request through an ordered filter
// chain and proxies the survivors to the payment platform.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/paysphere/sphere-gateway/internal/accesslog"
	"github.com/paysphere/sphere-gateway/internal/auth"
	"github.com/paysphere/sphere-gateway/internal/config"
	"github.com/paysphere/sphere-gateway/internal/envelope"
	"github.com/paysphere/sphere-gateway/internal/gwerr"
	"github.com/paysphere/sphere-gateway/internal/merchant"
	"github.com/paysphere/sphere-gateway/internal/middleware"
	"github.com/paysphere/sphere-gateway/internal/observability"
	"github.com/paysphere/sphere-gateway/internal/route"
)

const pipelineTracerName = "sphere-gateway/pipeline"

// Filter priorities. Lower runs earlier; the maintenance gate must run
// before everything else.
const (
	priorityMaintenance = -99
	priorityResolve     = -10
	priorityAuth        = -5
	priorityRewrite     = -2
)

// Context is the mutable per-request state threaded through the filters.
type Context struct {
	Request      *http.Request
	Body         []byte
	ClientIP     string
	Env          route.Environment
	Route        route.ServiceRoute
	Credential   *merchant.Credential
	UpstreamPath string
}

// Filter is one step of the chain. Returning an error stops the chain and
// the error becomes the response.
type Filter struct {
	Name     string
	Priority int
	Run      func(ctx context.Context, fc *Context) error
}

// Pipeline is the gateway's request handler: filters, upstream proxy and
// response envelope, with the access log recorded on every exit path.
type Pipeline struct {
	store    *config.Store
	engine   *route.Engine
	auth     *auth.Authenticator
	builder  *envelope.Builder
	recorder *accesslog.Recorder
	upstream *http.Client
	logger   observability.Logger
	filters  []Filter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithUpstreamClient overrides the proxy HTTP client.
func WithUpstreamClient(hc *http.Client) Option {
	return func(p *Pipeline) {
		p.upstream = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithExtraFilters appends additional filters to the chain.
func WithExtraFilters(filters ...Filter) Option {
	return func(p *Pipeline) {
		p.filters = append(p.filters, filters...)
	}
}

// New assembles the pipeline.
func New(
	store *config.Store,
	engine *route.Engine,
	authenticator *auth.Authenticator,
	builder *envelope.Builder,
	recorder *accesslog.Recorder,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:    store,
		engine:   engine,
		auth:     authenticator,
		builder:  builder,
		recorder: recorder,
		logger:   observability.NopLogger(),
	}

	cfg := store.Current()
	p.upstream = &http.Client{Timeout: cfg.Upstream.Timeout.Duration()}

	p.filters = []Filter{
		{Name: "maintenance", Priority: priorityMaintenance, Run: p.maintenanceFilter},
		{Name: "resolve", Priority: priorityResolve, Run: p.resolveFilter},
		{Name: "authenticate", Priority: priorityAuth, Run: p.authFilter},
		{Name: "rewrite", Priority: priorityRewrite, Run: p.rewriteFilter},
	}

	for _, opt := range opts {
		opt(p)
	}

	sort.SliceStable(p.filters, func(i, j int) bool {
		return p.filters[i].Priority < p.filters[j].Priority
	})

	return p
}

// ServeHTTP implements http.Handler.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx, span := otel.Tracer(pipelineTracerName).Start(r.Context(), "gateway.Request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		),
	)
	defer span.End()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	fc := &Context{
		Request:  r,
		ClientIP: middleware.ClientIP(r),
		Route:    route.Unknown,
	}

	defer func() {
		p.record(fc, rec.status, start)
		GetPipelineMetrics().requestDuration.WithLabelValues(
			fc.Route.ServiceCode,
		).Observe(time.Since(start).Seconds())
	}()

	cfg := p.store.Current()

	body, err := readBody(r, cfg.Server.MaxBodyBytes)
	if err != nil {
		p.fail(rec, fc, gwerr.From(err))
		return
	}
	fc.Body = body

	for _, f := range p.filters {
		if err := f.Run(ctx, fc); err != nil {
			p.fail(rec, fc, gwerr.From(err))
			return
		}
	}

	status, respBody, err := p.proxy(ctx, fc, cfg)
	if err != nil {
		p.fail(rec, fc, gwerr.From(err))
		return
	}

	span.SetAttributes(attribute.Int("upstream.status", status))
	p.builder.WriteUpstream(rec, status, respBody)
	GetPipelineMetrics().requestsTotal.WithLabelValues(fc.Route.ServiceCode, "ok").Inc()
}

// fail writes the error envelope tagged with the resolved service code.
func (p *Pipeline) fail(w http.ResponseWriter, fc *Context, ge *gwerr.Error) {
	ge = ge.WithService(fc.Route.ServiceCode)

	p.logger.Warn("request rejected",
		observability.String("path", fc.Request.URL.Path),
		observability.String("serviceCode", ge.ServiceCode),
		observability.Int("code", int(ge.Code)),
		observability.String("message", ge.Message),
		observability.Error(ge.Cause))

	GetPipelineMetrics().requestsTotal.WithLabelValues(fc.Route.ServiceCode, "error").Inc()
	p.builder.WriteError(w, ge)
}

// maintenanceFilter rejects everything while the gate is closed. It reads
// the live config snapshot so flipping the flag needs no restart.
func (p *Pipeline) maintenanceFilter(_ context.Context, _ *Context) error {
	if !p.store.Current().Hosts.Open {
		return gwerr.ServerError("System maintenance in progress, please try again later")
	}
	return nil
}

// resolveFilter binds the request to an environment and a service route.
func (p *Pipeline) resolveFilter(_ context.Context, fc *Context) error {
	fc.Env = p.engine.EnvironmentFor(fc.Request.Host)
	fc.Route = p.engine.Resolve(fc.Request.URL.Path)

	if fc.Route.ServiceCode == route.CodeUnknown {
		return gwerr.New(gwerr.CodeNotFound)
	}
	if !route.MountedFor(fc.Route, fc.Env) {
		return gwerr.New(gwerr.CodeNotFound)
	}
	if fc.Route.SignedAccess && fc.Request.Method != http.MethodPost {
		return gwerr.New(gwerr.CodeNotFound)
	}
	return nil
}

// authFilter runs the signed-access protocol on routes that require it.
func (p *Pipeline) authFilter(ctx context.Context, fc *Context) error {
	if !fc.Route.SignedAccess {
		return nil
	}

	r := fc.Request
	cred, err := p.auth.Authenticate(ctx, &auth.Request{
		Path:          r.URL.Path,
		Host:          r.Host,
		ContentType:   r.Header.Get("Content-Type"),
		Authorization: r.Header.Get("Authorization"),
		Timestamp:     r.Header.Get("X-TIMESTAMP"),
		Signature:     r.Header.Get("X-SIGNATURE"),
		PartnerID:     r.Header.Get("X-PARTNER-ID"),
		ClientIP:      fc.ClientIP,
		Body:          fc.Body,
		Env:           fc.Env,
		Route:         fc.Route,
	})
	if err != nil {
		return err
	}

	fc.Credential = cred
	return nil
}

// rewriteFilter computes the upstream path for the resolved route.
func (p *Pipeline) rewriteFilter(_ context.Context, fc *Context) error {
	fc.UpstreamPath = route.RewriteFor(fc.Route, fc.Env, fc.Request.URL.Path)
	return nil
}

// proxy forwards the request to the payment platform. The round trip is
// bound to the inbound request context, so a client disconnect cancels it.
func (p *Pipeline) proxy(ctx context.Context, fc *Context, cfg *config.GatewayConfig) (int, []byte, error) {
	target := cfg.Upstream.PaymentServiceURL + fc.UpstreamPath
	if fc.Request.URL.RawQuery != "" {
		target += "?" + fc.Request.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, fc.Request.Method, target, bytes.NewReader(fc.Body))
	if err != nil {
		return 0, nil, err
	}

	copyHeader(req.Header, fc.Request.Header, "Content-Type")
	copyHeader(req.Header, fc.Request.Header, "X-PARTNER-ID")
	copyHeader(req.Header, fc.Request.Header, "X-TIMESTAMP")
	req.Header.Set("X-Forwarded-For", fc.ClientIP)

	resp, err := p.upstream.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.Server.MaxBodyBytes))
	if err != nil {
		return 0, nil, err
	}

	return resp.StatusCode, body, nil
}

// record submits the access-log entry for a completed request.
func (p *Pipeline) record(fc *Context, status int, start time.Time) {
	if p.recorder == nil {
		return
	}

	r := fc.Request
	schema := "http"
	if r.TLS != nil {
		schema = "https"
	}

	headers, _ := json.Marshal(r.Header)

	p.recorder.Record(accesslog.Entry{
		TargetServer:  fc.UpstreamPath,
		Host:          r.Host,
		RequestPath:   r.URL.Path,
		Method:        r.Method,
		Schema:        schema,
		IP:            fc.ClientIP,
		RequestTime:   start,
		RequestHeader: string(headers),
		RequestParam:  string(fc.Body),
		MerchantID:    r.Header.Get("X-PARTNER-ID"),
		Code:          status,
		ExecuteTime:   time.Since(start),
	})
}

func copyHeader(dst, src http.Header, name string) {
	if v := src.Get(name); v != "" {
		dst.Set(name, v)
	}
}

// readBody buffers the request body up to the configured cap.
func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, gwerr.BadRequest("body too large")
	}
	return body, nil
}

// statusRecorder captures the status code written to the response.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
