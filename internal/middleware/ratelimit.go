package middleware

import (
	"container/list"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/time/rate"
)

const (
	principalKeyPrefix = "user:"
	defaultMaxKeys     = 10_000
)

// RateLimitConfig defines the limit for a specific route or group.
type RateLimitConfig struct {
	// Max requests per Window. The bucket refills continuously, so a client
	// that spent its burst gets one request back every Window/Max.
	Max    int
	Window time.Duration
	KeyFn  func(c fiber.Ctx) string
	// MaxKeys caps how many clients are tracked. When full, the least recently
	// seen anonymous client is dropped first; signed-in users only go once no
	// anonymous entries remain.
	MaxKeys int
}

type bucket struct {
	key     string
	limiter *rate.Limiter
	seen    time.Time
	elem    *list.Element
	lru     *list.List
}

// RateLimiter is an in-memory per-client token bucket limiter.
type RateLimiter struct {
	cfg      RateLimitConfig
	every    time.Duration
	now      func() time.Time
	mu       sync.Mutex
	buckets  map[string]*bucket
	anon     *list.List // front is most recently seen
	users    *list.List
	lastScan time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Max <= 0 {
		cfg.Max = 1
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	return &RateLimiter{
		cfg:     cfg,
		every:   cfg.Window / time.Duration(cfg.Max),
		now:     time.Now,
		buckets: make(map[string]*bucket),
		anon:    list.New(),
		users:   list.New(),
	}
}

// decision is the outcome of one request against a bucket.
type decision struct {
	allowed   bool
	remaining int
	retry     time.Duration // until the next token when denied
	reset     time.Time     // when the bucket is full again
}

func (rl *RateLimiter) take(key string) decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b := rl.touch(key, now)
	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)

	d := decision{
		allowed:   allowed,
		remaining: max(int(math.Floor(tokens)), 0),
		reset:     now.Add(time.Duration((float64(rl.cfg.Max) - tokens) * float64(rl.every))),
	}
	if !allowed {
		d.retry = time.Duration((1 - tokens) * float64(rl.every))
	}
	return d
}

// touch returns key's bucket, creating it (and making room) if needed, and
// marks it most recently seen.
func (rl *RateLimiter) touch(key string, now time.Time) *bucket {
	if b, ok := rl.buckets[key]; ok {
		b.seen = now
		b.lru.MoveToFront(b.elem)
		return b
	}

	for len(rl.buckets) >= rl.cfg.MaxKeys {
		victim := rl.anon.Back()
		if victim == nil {
			victim = rl.users.Back()
		}
		rl.remove(victim.Value.(*bucket))
	}

	lru := rl.anon
	if strings.HasPrefix(key, principalKeyPrefix) {
		lru = rl.users
	}
	b := &bucket{
		key:     key,
		limiter: rate.NewLimiter(rate.Every(rl.every), rl.cfg.Max),
		seen:    now,
		lru:     lru,
	}
	b.elem = lru.PushFront(b)
	rl.buckets[key] = b
	return b
}

// sweep drops buckets idle for a whole window. Those have refilled, so
// forgetting them changes no decision. Runs at most once per window.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastScan) < rl.cfg.Window {
		return
	}
	rl.lastScan = now
	for _, lru := range []*list.List{rl.anon, rl.users} {
		for e := lru.Back(); e != nil; e = lru.Back() {
			b := e.Value.(*bucket)
			if now.Sub(b.seen) < rl.cfg.Window {
				break
			}
			rl.remove(b)
		}
	}
}

func (rl *RateLimiter) remove(b *bucket) {
	b.lru.Remove(b.elem)
	delete(rl.buckets, b.key)
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Allow records a request for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.take(key).allowed
}

// Handler returns a Fiber middleware handler that enforces the rate limit.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c fiber.Ctx) error {
		d := rl.take(rl.cfg.KeyFn(c))

		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))
		if d.allowed {
			return c.Next()
		}

		retryAfter := int(math.Ceil(d.retry.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": fiber.Map{
				"code":       "RATE_LIMITED",
				"message":    "Too many requests. Try again in " + strconv.Itoa(retryAfter) + " seconds.",
				"retryAfter": retryAfter,
			},
		})
	}
}

// KeyByIP returns the client IP as the rate limit key.
func KeyByIP(c fiber.Ctx) string {
	return "ip:" + c.IP()
}

// KeyByPrincipal keys on the authenticated user set by RequireAuth.
// Falls back to IP when the route is unauthenticated.
func KeyByPrincipal(c fiber.Ctx) string {
	if p := CurrentPrincipal(c); p != nil {
		return principalKeyPrefix + p.ID
	}
	return KeyByIP(c)
}

// NewUploadRateLimiter allows 10 uploads a minute per user.
func NewUploadRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{Max: 10, Window: time.Minute, KeyFn: KeyByPrincipal})
}

// NewAnalyzeRateLimiter allows 5 analyses a minute per user; each one holds a
// remote model call.
func NewAnalyzeRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimitConfig{Max: 5, Window: time.Minute, KeyFn: KeyByPrincipal})
}
