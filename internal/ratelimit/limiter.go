// Package ratelimit provides the fixed per-key throttle applied to every call
// toward a marketplace worker or search engine.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces calls per key (a market name or a host) by a fixed delay.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	delay    time.Duration
}

// New creates a limiter with the given default delay between calls. A
// non-positive delay disables throttling.
func New(defaultDelay time.Duration) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		delay:    defaultDelay,
	}
}

// PerSecond converts a requests-per-second budget into a delay.
func PerSecond(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Second / time.Duration(n)
}

// Wait blocks until a call for key may proceed.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.getLimiter(key).Wait(ctx)
}

// WaitURL blocks until a request to the host of rawURL may proceed.
func (l *Limiter) WaitURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse url: %w", err)
	}
	return l.Wait(ctx, u.Host)
}

// SetDelay sets a custom delay for one key.
func (l *Limiter) SetDelay(key string, delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if delay <= 0 {
		delay = l.delay
	}
	l.limiters[key] = newRateLimiter(delay)
}

func newRateLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[key]; exists {
		return limiter
	}

	limiter = newRateLimiter(l.delay)
	l.limiters[key] = limiter
	return limiter
}
