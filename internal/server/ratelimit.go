package server

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RateLimitConfig bounds inbound traffic. A zero GlobalRPS disables the global
// bucket and a zero WebhookLimit disables the per-source webhook limit. When
// Redis is set the webhook counters are shared across replicas.
type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	WebhookLimit  int
	WebhookWindow time.Duration
	Redis         redis.UniversalClient
	KeyPrefix     string
}

type rateLimiter struct {
	global        *tokenBucket
	webhookLimit  int
	webhookWindow time.Duration
	sourcesMu     sync.Mutex
	sourceBuckets map[string]*sourceLimiter
	store         tokenStore
	now           func() time.Time
}

type sourceLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		webhookLimit:  cfg.WebhookLimit,
		webhookWindow: cfg.WebhookWindow,
		sourceBuckets: make(map[string]*sourceLimiter),
		now:           time.Now,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.webhookLimit < 0 {
		rl.webhookLimit = 0
	}
	if rl.webhookWindow <= 0 {
		rl.webhookWindow = time.Minute
	}
	if cfg.Redis != nil && rl.webhookLimit > 0 {
		rl.store = newRedisStore(cfg.Redis, cfg.KeyPrefix)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowWebhook applies the per-source limit to webhook deliveries.
func (r *rateLimiter) AllowWebhook(ctx context.Context, source string) (bool, time.Duration, error) {
	if r == nil || r.webhookLimit <= 0 {
		return true, 0, nil
	}
	if source == "" {
		source = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(ctx, source, r.webhookLimit, r.webhookWindow)
	}

	r.sourcesMu.Lock()
	limiter, exists := r.sourceBuckets[source]
	if !exists {
		rate := float64(r.webhookLimit) / r.webhookWindow.Seconds()
		limiter = &sourceLimiter{bucket: newTokenBucket(rate, r.webhookLimit)}
		r.sourceBuckets[source] = limiter
	}
	limiter.lastSeen = r.now()
	r.cleanupLocked()
	r.sourcesMu.Unlock()

	if limiter.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) cleanupLocked() {
	cutoff := r.now().Add(-2 * r.webhookWindow)
	for key, limiter := range r.sourceBuckets {
		if limiter.lastSeen.Before(cutoff) {
			delete(r.sourceBuckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
