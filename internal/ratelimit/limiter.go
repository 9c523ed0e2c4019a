package ratelimit

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Category selects which bucket limits apply to a key.
type Category string

const (
	CategoryTouch Category = "touch"
	CategoryText  Category = "text"
	CategoryMacro Category = "macro"
	CategoryOCR   Category = "ocr"
	CategoryAuth  Category = "auth"
)

// LimitConfig describes one token bucket class.
type LimitConfig struct {
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"` // tokens per second
}

// DefaultLimits are the per-category budgets. Auth refills over a minute.
var DefaultLimits = map[Category]LimitConfig{
	CategoryTouch: {Capacity: 100, RefillRate: 100},
	CategoryText:  {Capacity: 10, RefillRate: 10},
	CategoryMacro: {Capacity: 1, RefillRate: 1},
	CategoryOCR:   {Capacity: 2, RefillRate: 2},
	CategoryAuth:  {Capacity: 5, RefillRate: 5.0 / 60.0},
}

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastUpdate time.Time
}

// Limiter keeps lazy-refill token buckets keyed by "<key>:<category>".
// Refill is computed from the monotonic clock, so wall-clock jumps
// neither refund nor penalize tokens.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limits  map[Category]LimitConfig
	now     func() time.Time
}

func NewLimiter() *Limiter {
	return NewLimiterWithConfig(nil)
}

func NewLimiterWithConfig(limits map[Category]LimitConfig) *Limiter {
	merged := make(map[Category]LimitConfig, len(DefaultLimits))
	for c, lc := range DefaultLimits {
		merged[c] = lc
	}
	for c, lc := range limits {
		merged[c] = lc
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		limits:  merged,
		now:     time.Now,
	}
}

// Allow consumes one token from the bucket for (key, category) and
// reports whether the operation is admitted. Unknown categories are
// never limited.
func (l *Limiter) Allow(category Category, key string) bool {
	cfg, ok := l.limits[category]
	if !ok {
		return true
	}

	composite := key + ":" + string(category)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[composite]
	if !ok {
		b = &bucket{
			tokens:     cfg.Capacity,
			capacity:   cfg.Capacity,
			refillRate: cfg.RefillRate,
			lastUpdate: l.now(),
		}
		l.buckets[composite] = b
	}

	l.refill(b)

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// Reset drops every bucket belonging to key, e.g. when its session closes.
func (l *Limiter) Reset(key string) {
	prefix := key + ":"

	l.mu.Lock()
	defer l.mu.Unlock()

	for composite := range l.buckets {
		if strings.HasPrefix(composite, prefix) {
			delete(l.buckets, composite)
		}
	}
}

// Remaining reports the current token count after refill. Diagnostics only.
func (l *Limiter) Remaining(category Category, key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key+":"+string(category)]
	if !ok {
		if cfg, ok := l.limits[category]; ok {
			return cfg.Capacity
		}
		return 0
	}
	l.refill(b)
	return b.tokens
}

func (l *Limiter) refill(b *bucket) {
	now := l.now()
	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastUpdate = now
}
