package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
upstream:
  paymentServiceURL: http://payment-service:8080
hosts:
  open: true
`

func TestLoadConfigFromReader_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "sandbox-gateway.paysphere.id", cfg.Hosts.Sandbox)
	assert.Equal(t, "gateway.paysphere.id", cfg.Hosts.Production)
	assert.Equal(t, "sandbox", cfg.Hosts.SandboxMarker)
	assert.True(t, cfg.Hosts.Open)
	assert.Equal(t, "sphere", cfg.Auth.JWTSecret)
	assert.Equal(t, time.RFC3339, cfg.Auth.TimestampFormat)
	assert.Equal(t, 5*time.Minute, cfg.Auth.MaxTimestampDrift.Duration())
	assert.Equal(t, 60*time.Second, cfg.Cache.RedisTTL.Duration())
	assert.Equal(t, 10000, cfg.Cache.LocalMaxEntries)
	assert.Equal(t, time.Hour, cfg.Cache.LocalTTL.Duration())
	assert.Equal(t, "http://paysphere.id", cfg.Upstream.Origin)
	assert.Equal(t, 5*time.Second, cfg.Log.Slow.Threshold.Duration())
	assert.Equal(t, 64, cfg.Log.Workers)
	assert.Equal(t, 1024, cfg.Log.QueueSize)
}

func TestLoadConfigFromReader_Overrides(t *testing.T) {
	yaml := `
server:
  port: 9090
  maxBodyBytes: 2048
hosts:
  open: false
auth:
  maxTimestampDrift: 10m
upstream:
  paymentServiceURL: http://payment-service:8080
log:
  fail:
    alarm: true
    exclusion: [404, 429]
  slow:
    alarm: true
    threshold: 3s
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(2048), cfg.Server.MaxBodyBytes)
	assert.False(t, cfg.Hosts.Open)
	assert.Equal(t, 10*time.Minute, cfg.Auth.MaxTimestampDrift.Duration())
	assert.Equal(t, []int{404, 429}, cfg.Log.Fail.Exclusion)
	assert.Equal(t, 3*time.Second, cfg.Log.Slow.Threshold.Duration())
}

func TestLoadConfig_MissingUpstreamURL(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("hosts:\n  open: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paymentServiceURL")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("{{nope"))
	assert.Error(t, err)
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_URL", "http://override:9000")

	yaml := `
upstream:
  paymentServiceURL: ${TEST_UPSTREAM_URL:-http://fallback:8080}
  origin: ${TEST_MISSING_ORIGIN:-http://paysphere.id}
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, "http://override:9000", cfg.Upstream.PaymentServiceURL)
	assert.Equal(t, "http://paysphere.id", cfg.Upstream.Origin)
}

func TestEnvSubstitution_EscapedDollar(t *testing.T) {
	assert.Equal(t, "pa$sword", substituteEnvVars("pa$$sword"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GatewayConfig)
	}{
		{"bad port", func(c *GatewayConfig) { c.Server.Port = -1 }},
		{"negative body cap", func(c *GatewayConfig) { c.Server.MaxBodyBytes = -1 }},
		{"no upstream", func(c *GatewayConfig) { c.Upstream.PaymentServiceURL = "" }},
		{"zero drift", func(c *GatewayConfig) { c.Auth.MaxTimestampDrift = Duration(-time.Second) }},
		{"negative cache entries", func(c *GatewayConfig) { c.Cache.LocalMaxEntries = -1 }},
		{"ratelimit without rps", func(c *GatewayConfig) {
			c.RateLimit.Enabled = true
			c.RateLimit.RPS = 0
			c.RateLimit.Burst = 1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Upstream.PaymentServiceURL = "http://payment-service:8080"
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"90s"`)))
	assert.Equal(t, 90*time.Second, d.Duration())

	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))
}

func TestStoreReplace(t *testing.T) {
	first := DefaultConfig()
	first.Upstream.PaymentServiceURL = "http://a"
	store := NewStore(first)

	assert.Equal(t, "http://a", store.Current().Upstream.PaymentServiceURL)

	second := DefaultConfig()
	second.Upstream.PaymentServiceURL = "http://b"
	store.Replace(second)

	assert.Equal(t, "http://b", store.Current().Upstream.PaymentServiceURL)

	select {
	case got := <-store.Updates():
		assert.Equal(t, "http://b", got.Upstream.PaymentServiceURL)
	default:
		t.Fatal("expected an update announcement")
	}
}

func TestStoreReplace_DropsStaleAnnouncements(t *testing.T) {
	store := NewStore(DefaultConfig())

	for i := 0; i < 5; i++ {
		cfg := DefaultConfig()
		cfg.Server.Port = 9000 + i
		store.Replace(cfg)
	}

	got := <-store.Updates()
	assert.Equal(t, 9004, got.Server.Port)
}

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestWatcher_ReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, minimalYAML)

	updates := make(chan *GatewayConfig, 4)
	w, err := NewWatcher(path, func(cfg *GatewayConfig) {
		updates <- cfg
	}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop() })

	closed := strings.Replace(minimalYAML, "open: true", "open: false", 1)
	require.NoError(t, os.WriteFile(path, []byte(closed), 0o600))

	select {
	case cfg := <-updates:
		assert.False(t, cfg.Hosts.Open)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcher_InvalidReloadKeepsCallbackSilent(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, minimalYAML)

	updates := make(chan *GatewayConfig, 4)
	errs := make(chan error, 4)
	w, err := NewWatcher(path,
		func(cfg *GatewayConfig) { updates <- cfg },
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(func(err error) { errs <- err }))
	require.NoError(t, err)

	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("{{broken"), 0o600))

	select {
	case <-updates:
		t.Fatal("callback fired for invalid config")
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no error callback observed")
	}
}
