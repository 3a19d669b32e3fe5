// Package ratelimit throttles API callers with per-key token buckets.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config tunes the limiter.
type Config struct {
	RequestsPerMinute int           // sustained rate per caller
	BurstSize         int           // short bursts allowed above the sustained rate
	CleanupInterval   time.Duration // how often idle buckets are evicted
}

// DefaultConfig allows one request per second sustained with bursts of ten.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// bucket is a token bucket for one caller.
type bucket struct {
	tokens   float64
	refilled time.Time
}

// refill credits tokens for the time elapsed since the last refill, capped
// at the burst size.
func (b *bucket) refill(now time.Time, perSecond, burst float64) {
	b.tokens += now.Sub(b.refilled).Seconds() * perSecond
	if b.tokens > burst {
		b.tokens = burst
	}
	b.refilled = now
}

// Limiter applies a token bucket per caller key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
}

// New starts a limiter and its background eviction loop. Call Stop when
// shutting down.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go l.evictIdle()
	return l
}

// Stop terminates the eviction loop.
func (l *Limiter) Stop() {
	close(l.done)
}

func (l *Limiter) evictIdle() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * time.Minute)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.refilled.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// Allow consumes one token for key, reporting whether the request may
// proceed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(l.cfg.BurstSize - 1), refilled: now}
		return true
	}

	b.refill(now, float64(l.cfg.RequestsPerMinute)/60.0, float64(l.cfg.BurstSize))
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware rejects over-limit requests with 429. Authenticated callers
// are keyed by token prefix so clients behind a shared NAT don't starve
// each other; anonymous callers are keyed by IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if authz := c.GetHeader("Authorization"); authz != "" {
			key = "auth:" + authz[:min(20, len(authz))]
		}

		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}
		c.Next()
	}
}
