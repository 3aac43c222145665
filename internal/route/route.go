// Package route resolves inbound request paths to payment service routes
// and environment-specific upstream rewrite paths.
package route

import "strings"

// Environment identifies which upstream environment serves a request.
type Environment int

const (
	// Production is the default environment.
	Production Environment = iota
	// Sandbox serves test traffic.
	Sandbox
)

// String returns the environment name.
func (e Environment) String() string {
	if e == Sandbox {
		return "sandbox"
	}
	return "production"
}

// ServiceRoute describes one business capability exposed by the gateway.
type ServiceRoute struct {
	// ServiceCode is the stable two-digit identifier for the capability.
	ServiceCode string

	// Name is the human-readable route name.
	Name string

	// ProductionPath is the externally visible path.
	ProductionPath string

	// SandboxUpstreamPath is the upstream path in the sandbox environment.
	SandboxUpstreamPath string

	// ProductionRewritePath is the upstream path in production.
	ProductionRewritePath string

	// SignedAccess marks routes requiring the full authentication protocol.
	SignedAccess bool

	// RequiresPayout marks routes gated on the merchant's payout capability.
	RequiresPayout bool
}

// Service codes.
const (
	CodeDeposit = "10"
	CodePayout  = "11"
	CodeStatus  = "12"
	CodeBalance = "13"
	CodeUnknown = "00"
)

// Unknown is the sentinel returned when no route matches.
var Unknown = ServiceRoute{
	ServiceCode:           CodeUnknown,
	Name:                  "unknown",
	ProductionPath:        "/v1.0/unknown",
	SandboxUpstreamPath:   "/sandbox/unknown",
	ProductionRewritePath: "/unknown",
}

// defaultTable lists the routes in declaration order. Resolution is
// first-match on a path substring, so order is part of the contract.
var defaultTable = []ServiceRoute{
	{
		ServiceCode:           CodeDeposit,
		Name:                  "deposit",
		ProductionPath:        "/v1.0/transaction/deposit",
		SandboxUpstreamPath:   "/sandbox/v1.0/deposit",
		ProductionRewritePath: "/v1.0/deposit",
		SignedAccess:          true,
	},
	{
		ServiceCode:           CodePayout,
		Name:                  "payout",
		ProductionPath:        "/v1.0/disbursement/payout",
		SandboxUpstreamPath:   "/sandbox/v1.0/payout",
		ProductionRewritePath: "/v1.0/payout",
		SignedAccess:          true,
		RequiresPayout:        true,
	},
	{
		ServiceCode:           CodeStatus,
		Name:                  "status",
		ProductionPath:        "/v1.0/inquiry-status",
		SandboxUpstreamPath:   "/sandbox/v1/inquiryStatus",
		ProductionRewritePath: "/v1/inquiryStatus",
		SignedAccess:          true,
	},
	{
		ServiceCode:           CodeBalance,
		Name:                  "balance",
		ProductionPath:        "/v1.0/inquiry-balance",
		SandboxUpstreamPath:   "/sandbox/v1.0/inquiryBalance",
		ProductionRewritePath: "/v1.0/inquiryBalance",
		SignedAccess:          true,
	},
	{
		// Generic channel pass-through, production host only, no signing.
		ServiceCode:           "20",
		Name:                  "payment",
		ProductionPath:        "/payment/",
		SandboxUpstreamPath:   "",
		ProductionRewritePath: "",
	},
}

// Engine resolves request paths against a static route table.
type Engine struct {
	table         []ServiceRoute
	sandboxMarker string
}

// Option is a functional option for the Engine.
type Option func(*Engine)

// WithTable replaces the default route table.
func WithTable(table []ServiceRoute) Option {
	return func(e *Engine) {
		e.table = table
	}
}

// NewEngine creates a routing engine.
func NewEngine(sandboxMarker string, opts ...Option) *Engine {
	e := &Engine{
		table:         defaultTable,
		sandboxMarker: sandboxMarker,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve walks the table in declaration order and returns the first route
// whose production path is a substring of the request path. First match
// wins even when a later entry would match more of the path; callers rely
// on this tie-break. No match yields the Unknown sentinel.
func (e *Engine) Resolve(requestPath string) ServiceRoute {
	if requestPath == "" {
		return Unknown
	}
	for _, r := range e.table {
		if strings.Contains(requestPath, r.ProductionPath) {
			return r
		}
	}
	return Unknown
}

// EnvironmentFor derives the environment from the inbound Host header: a
// host containing the sandbox marker is sandbox, everything else is
// production.
func (e *Engine) EnvironmentFor(host string) Environment {
	if e.sandboxMarker != "" && strings.Contains(host, e.sandboxMarker) {
		return Sandbox
	}
	return Production
}

// RewriteFor returns the upstream path for the route in the given
// environment. Pass-through routes (empty rewrite) keep the original path.
func RewriteFor(r ServiceRoute, env Environment, originalPath string) string {
	if env == Sandbox {
		if r.SandboxUpstreamPath == "" {
			return originalPath
		}
		return r.SandboxUpstreamPath
	}
	if r.ProductionRewritePath == "" {
		return originalPath
	}
	return r.ProductionRewritePath
}

// MountedFor reports whether the route accepts traffic in the environment.
// Routes without a sandbox upstream exist only on the production host.
func MountedFor(r ServiceRoute, env Environment) bool {
	if env == Sandbox {
		return r.SandboxUpstreamPath != ""
	}
	return true
}
