package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/paysphere/sphere-gateway/internal/config"
	"github.com/paysphere/sphere-gateway/internal/envelope"
	"github.com/paysphere/sphere-gateway/internal/gwerr"
	"github.com/paysphere/sphere-gateway/internal/observability"
)

// maxLimiterEntries bounds the per-key limiter map. On overflow the map is
// reset; buckets refill within seconds so the reset only briefly widens the
// allowance.
const maxLimiterEntries = 10000

// limiterPool hands out one token bucket per key.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters[key]; ok {
		return l
	}
	if len(p.limiters) >= maxLimiterEntries {
		p.limiters = make(map[string]*rate.Limiter)
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.limiters[key] = l
	return l
}

// RateLimit enforces a per-merchant token bucket keyed on X-PARTNER-ID,
// falling back to the client IP for unidentified traffic.
func RateLimit(cfg config.RateLimitConfig, builder *envelope.Builder, logger observability.Logger) gin.HandlerFunc {
	pool := newLimiterPool(cfg.RPS, cfg.Burst)

	return func(c *gin.Context) {
		key := c.GetHeader("X-PARTNER-ID")
		if key == "" {
			key = ClientIP(c.Request)
		}

		if !pool.get(key).Allow() {
			logger.Warn("rate limit exceeded",
				observability.String("key", key),
				observability.String("path", c.Request.URL.Path))
			builder.WriteError(c.Writer, gwerr.New(gwerr.CodeTooManyRequests))
			c.Abort()
			return
		}

		c.Next()
	}
}
