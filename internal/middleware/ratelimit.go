package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/opentreehole/treehole/pkg/errors"
	"github.com/opentreehole/treehole/pkg/response"
)

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL evicts buckets for clients that have been quiet this long.
	IdleTTL time.Duration
	Clock   func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit limits requests per (client IP, route) with a token bucket.
// The buckets live in memory, so limits apply per instance.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	var (
		mu        sync.Mutex
		buckets   = make(map[string]*clientBucket)
		lastSweep = now()
	)

	return func(c *gin.Context) {
		key := c.ClientIP() + "|" + c.FullPath()
		at := now()

		mu.Lock()
		if at.Sub(lastSweep) > cfg.IdleTTL {
			for k, b := range buckets {
				if at.Sub(b.lastSeen) > cfg.IdleTTL {
					delete(buckets, k)
				}
			}
			lastSweep = at
		}
		bucket, ok := buckets[key]
		if !ok {
			bucket = &clientBucket{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			buckets[key] = bucket
		}
		bucket.lastSeen = at
		allowed := bucket.limiter.AllowN(at, 1)
		remaining := int(bucket.limiter.TokensAt(at))
		mu.Unlock()

		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", "1")
			response.Error(c, errors.ErrTooManyRequests)
			c.Abort()
			return
		}

		c.Next()
	}
}
