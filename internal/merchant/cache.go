package merchant

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/paysphere/sphere-gateway/internal/cache"
	"github.com/paysphere/sphere-gateway/internal/gwerr"
	"github.com/paysphere/sphere-gateway/internal/observability"
	"github.com/paysphere/sphere-gateway/internal/route"
)

// Cache key prefixes per environment. Sandbox and production credentials
// for the same merchant id never share an entry.
const (
	productionKeyPrefix = "CACHE_MERCHANT_CONFIG:"
	sandboxKeyPrefix    = "SANDBOX_CACHE_MERCHANT_CONFIG:"
)

// cacheKey builds the tier key for a merchant in an environment.
func cacheKey(env route.Environment, merchantID string) string {
	if env == route.Sandbox {
		return sandboxKeyPrefix + merchantID
	}
	return productionKeyPrefix + merchantID
}

// Fetcher is the remote credential source behind the cache tiers.
type Fetcher interface {
	Fetch(ctx context.Context, env route.Environment, merchantID string) (*Credential, error)
}

// ConfigCache resolves merchant credentials through two cache tiers before
// falling back to the config RPC: a per-instance LRU, then the shared Redis
// tier. Hits on the remote source populate both tiers; failures are never
// cached, so a merchant onboarded moments ago is visible after at most one
// Redis TTL.
type ConfigCache struct {
	local    cache.Cache
	shared   cache.Cache
	fetcher  Fetcher
	redisTTL time.Duration
	logger   observability.Logger
}

// ConfigCacheOption configures a ConfigCache.
type ConfigCacheOption func(*ConfigCache)

// WithSharedCache sets the distributed tier. Without it, lookups go
// straight from the local tier to the remote source.
func WithSharedCache(shared cache.Cache, ttl time.Duration) ConfigCacheOption {
	return func(c *ConfigCache) {
		c.shared = shared
		c.redisTTL = ttl
	}
}

// WithConfigCacheLogger sets the logger.
func WithConfigCacheLogger(logger observability.Logger) ConfigCacheOption {
	return func(c *ConfigCache) {
		c.logger = logger
	}
}

// NewConfigCache creates a credential cache over the local tier and remote
// fetcher.
func NewConfigCache(local cache.Cache, fetcher Fetcher, opts ...ConfigCacheOption) *ConfigCache {
	c := &ConfigCache{
		local:    local,
		fetcher:  fetcher,
		redisTTL: 60 * time.Second,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the credential for a merchant, walking local tier, shared
// tier, then the config RPC. An unknown merchant resolves to an
// unauthorized gateway error.
func (c *ConfigCache) Resolve(ctx context.Context, env route.Environment, merchantID string) (*Credential, error) {
	ctx, span := otel.Tracer(merchantTracerName).Start(ctx, "merchant.Resolve",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("merchant.id", merchantID),
			attribute.String("merchant.env", env.String()),
		),
	)
	defer span.End()

	if merchantID == "" {
		return nil, gwerr.Unauthorized("unknown client")
	}

	key := cacheKey(env, merchantID)

	if cred := c.lookupTier(ctx, c.local, key); cred != nil {
		span.SetAttributes(attribute.String("merchant.source", "local"))
		return cred, nil
	}

	if c.shared != nil {
		if cred := c.lookupTier(ctx, c.shared, key); cred != nil {
			span.SetAttributes(attribute.String("merchant.source", "redis"))
			c.storeLocal(ctx, key, cred)
			return cred, nil
		}
	}

	cred, err := c.fetcher.Fetch(ctx, env, merchantID)
	if err != nil {
		var ge *gwerr.Error
		if errors.As(err, &ge) {
			return nil, gwerr.Unauthorized("unknown client")
		}
		return nil, gwerr.From(err)
	}

	span.SetAttributes(attribute.String("merchant.source", "remote"))
	c.store(ctx, key, cred)
	return cred, nil
}

// lookupTier reads and decodes a credential from one tier. Tier errors are
// logged and treated as misses so a broken Redis never blocks auth.
func (c *ConfigCache) lookupTier(ctx context.Context, tier cache.Cache, key string) *Credential {
	data, err := tier.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("credential tier lookup failed",
				observability.String("key", key),
				observability.Error(err))
		}
		return nil
	}

	cred, err := UnmarshalCredential(data)
	if err != nil || !cred.Valid() {
		c.logger.Warn("dropping undecodable cached credential",
			observability.String("key", key))
		_ = tier.Delete(ctx, key)
		return nil
	}

	return cred
}

// store writes the credential to both tiers.
func (c *ConfigCache) store(ctx context.Context, key string, cred *Credential) {
	c.storeLocal(ctx, key, cred)

	if c.shared == nil {
		return
	}
	data, err := cred.Marshal()
	if err != nil {
		return
	}
	if err := c.shared.Set(ctx, key, data, c.redisTTL); err != nil {
		c.logger.Warn("credential redis store failed",
			observability.String("key", key),
			observability.Error(err))
	}
}

func (c *ConfigCache) storeLocal(ctx context.Context, key string, cred *Credential) {
	data, err := cred.Marshal()
	if err != nil {
		return
	}
	if err := c.local.Set(ctx, key, data, 0); err != nil {
		c.logger.Warn("credential local store failed",
			observability.String("key", key),
			observability.Error(err))
	}
}

// Invalidate drops a merchant's credential from both tiers.
func (c *ConfigCache) Invalidate(ctx context.Context, env route.Environment, merchantID string) {
	key := cacheKey(env, merchantID)
	_ = c.local.Delete(ctx, key)
	if c.shared != nil {
		_ = c.shared.Delete(ctx, key)
	}
}
