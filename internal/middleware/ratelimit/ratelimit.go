package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/metrics"
)

const (
	TenantHeader = "X-Tenant-ID"

	idleBucketTTL   = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// decision is the outcome of one take against a bucket.
type decision struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

// RateLimiter is a token bucket per tenant. Requests without a tenant header
// share a bucket per client IP.
type RateLimiter struct {
	mu       sync.RWMutex
	buckets  map[string]*bucket
	capacity int
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type Config struct {
	MaxRequestsPerMinute int
	WindowDuration       time.Duration
	Logger               *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.WindowDuration == 0 {
		cfg.WindowDuration = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		capacity: cfg.MaxRequestsPerMinute,
		interval: cfg.WindowDuration / time.Duration(cfg.MaxRequestsPerMinute),
		logger:   cfg.Logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go rl.evictLoop()

	return rl
}

func keyFor(c *fiber.Ctx) (key, kind string) {
	if tenantID := c.Get(TenantHeader); tenantID != "" {
		return "tenant:" + tenantID, "tenant"
	}
	return "ip:" + c.IP(), "ip"
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, kind := keyFor(c)
		d := rl.take(key)

		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.capacity))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))

		if !d.allowed {
			metrics.RateLimited.WithLabelValues(kind).Inc()
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Path()),
				zap.Duration("retry_after", d.retryAfter),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(d.retryAfter.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) bucketFor(key string) *bucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.buckets[key]; !ok {
		b = &bucket{tokens: rl.capacity, lastRefill: rl.now()}
		rl.buckets[key] = b
	}
	return b
}

// take refills the bucket for the elapsed whole intervals and spends one
// token when available.
func (rl *RateLimiter) take(key string) decision {
	b := rl.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	if earned := int(now.Sub(b.lastRefill) / rl.interval); earned > 0 {
		b.tokens += earned
		if b.tokens > rl.capacity {
			b.tokens = rl.capacity
		}
		b.lastRefill = b.lastRefill.Add(time.Duration(earned) * rl.interval)
	}

	if b.tokens == 0 {
		return decision{retryAfter: b.lastRefill.Add(rl.interval).Sub(now)}
	}
	b.tokens--
	return decision{allowed: true, remaining: b.tokens}
}

func (rl *RateLimiter) allow(key string) bool {
	return rl.take(key).allowed
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

// evictIdle drops buckets untouched for idleBucketTTL.
func (rl *RateLimiter) evictIdle() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	evicted := 0
	for key, b := range rl.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill) > idleBucketTTL
		b.mu.Unlock()
		if idle {
			delete(rl.buckets, key)
			evicted++
		}
	}
	return evicted
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
