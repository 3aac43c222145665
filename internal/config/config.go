// Package config provides configuration loading and hot-reload for the
// payment gateway.
package config

import (
	"fmt"
	"time"
)

// GatewayConfig is the root configuration for the gateway process.
type GatewayConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Hosts     HostConfig      `yaml:"hosts"`
	Auth      AuthConfig      `yaml:"auth"`
	Cache     CacheConfig     `yaml:"cache"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address      string   `yaml:"address"`
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
	IdleTimeout  Duration `yaml:"idleTimeout"`

	// MaxBodyBytes caps the buffered request body. Signature verification
	// needs the full body in memory, so the cap bounds per-request memory.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

// HostConfig selects the environment from the inbound Host header and
// carries the maintenance gate.
type HostConfig struct {
	// Sandbox is the host serving sandbox traffic. A Host header containing
	// the sandbox marker resolves to the sandbox environment.
	Sandbox string `yaml:"sandbox"`

	// Production is the host serving production traffic.
	Production string `yaml:"production"`

	// SandboxMarker is the substring that marks a host as sandbox.
	SandboxMarker string `yaml:"sandboxMarker"`

	// Open gates all traffic. When false every request is rejected with a
	// maintenance error before any other filter runs.
	Open bool `yaml:"open"`
}

// AuthConfig holds the authentication protocol settings.
//
// Two revisions of the upstream contract disagreed on the timestamp format
// ("yyyy-MM-dd HH:mm:ss" vs RFC 3339 with offset) and the drift tolerance
// (5m vs 60m), and on the JWT shared-secret literal. All three are explicit
// configuration here; the defaults are RFC 3339, 5 minutes and "sphere".
type AuthConfig struct {
	// JWTSecret is the shared secret whose SHA-256 hex digest is the HS256
	// verification key.
	JWTSecret string `yaml:"jwtSecret"`

	// TimestampFormat is the Go layout for X-TIMESTAMP.
	TimestampFormat string `yaml:"timestampFormat"`

	// MaxTimestampDrift is the maximum absolute distance between
	// X-TIMESTAMP and the gateway clock.
	MaxTimestampDrift Duration `yaml:"maxTimestampDrift"`
}

// CacheConfig configures the two credential cache tiers.
type CacheConfig struct {
	// Redis is the tier-2 connection URL, e.g. "redis://host:6379/0".
	// Empty disables the distributed tier; lookups then go local -> remote.
	Redis string `yaml:"redis"`

	// RedisTTL is the tier-2 entry TTL.
	RedisTTL Duration `yaml:"redisTTL"`

	// LocalMaxEntries bounds the tier-1 map.
	LocalMaxEntries int `yaml:"localMaxEntries"`

	// LocalTTL is the tier-1 entry TTL.
	LocalTTL Duration `yaml:"localTTL"`
}

// UpstreamConfig points at the internal payment service.
type UpstreamConfig struct {
	// PaymentServiceURL is the base URL proxied requests are sent to and
	// the host of the merchant-config RPC.
	PaymentServiceURL string `yaml:"paymentServiceURL"`

	// Timeout bounds a single upstream round trip.
	Timeout Duration `yaml:"timeout"`

	// Origin is the fixed ORIGIN response header value.
	Origin string `yaml:"origin"`
}

// LogConfig configures access-log reporting and alarms.
type LogConfig struct {
	Fail FailAlarmConfig `yaml:"fail"`
	Slow SlowAlarmConfig `yaml:"slow"`

	// Workers is the size of the async report pool.
	Workers int `yaml:"workers"`

	// QueueSize bounds the report queue; on saturation reports run on the
	// caller goroutine instead of being dropped.
	QueueSize int `yaml:"queueSize"`
}

// FailAlarmConfig controls the error alarm (fires on non-200 statuses).
type FailAlarmConfig struct {
	Alarm     bool  `yaml:"alarm"`
	Exclusion []int `yaml:"exclusion"`
}

// SlowAlarmConfig controls the slow-request alarm.
type SlowAlarmConfig struct {
	Alarm     bool     `yaml:"alarm"`
	Threshold Duration `yaml:"threshold"`
}

// RateLimitConfig configures the optional per-merchant token bucket.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DefaultConfig returns a GatewayConfig with all defaults applied.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with their default values.
func (c *GatewayConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(30 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(30 * time.Second)
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = Duration(120 * time.Second)
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}

	if c.Hosts.Sandbox == "" {
		c.Hosts.Sandbox = "sandbox-gateway.paysphere.id"
	}
	if c.Hosts.Production == "" {
		c.Hosts.Production = "gateway.paysphere.id"
	}
	if c.Hosts.SandboxMarker == "" {
		c.Hosts.SandboxMarker = "sandbox"
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "sphere"
	}
	if c.Auth.TimestampFormat == "" {
		c.Auth.TimestampFormat = time.RFC3339
	}
	if c.Auth.MaxTimestampDrift == 0 {
		c.Auth.MaxTimestampDrift = Duration(5 * time.Minute)
	}

	if c.Cache.RedisTTL == 0 {
		c.Cache.RedisTTL = Duration(60 * time.Second)
	}
	if c.Cache.LocalMaxEntries == 0 {
		c.Cache.LocalMaxEntries = 10000
	}
	if c.Cache.LocalTTL == 0 {
		c.Cache.LocalTTL = Duration(time.Hour)
	}

	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = Duration(30 * time.Second)
	}
	if c.Upstream.Origin == "" {
		c.Upstream.Origin = "http://paysphere.id"
	}

	if c.Log.Slow.Threshold == 0 {
		c.Log.Slow.Threshold = Duration(5 * time.Second)
	}
	if c.Log.Workers == 0 {
		c.Log.Workers = 64
	}
	if c.Log.QueueSize == 0 {
		c.Log.QueueSize = 1024
	}

	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *GatewayConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.maxBodyBytes must not be negative")
	}
	if c.Upstream.PaymentServiceURL == "" {
		return fmt.Errorf("upstream.paymentServiceURL is required")
	}
	if c.Auth.MaxTimestampDrift.Duration() <= 0 {
		return fmt.Errorf("auth.maxTimestampDrift must be positive")
	}
	if _, err := time.Parse(c.Auth.TimestampFormat, time.Now().Format(c.Auth.TimestampFormat)); err != nil {
		return fmt.Errorf("auth.timestampFormat is not a valid layout: %w", err)
	}
	if c.Cache.LocalMaxEntries < 0 {
		return fmt.Errorf("cache.localMaxEntries must not be negative")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("ratelimit.rps must be positive when enabled")
	}
	return nil
}
