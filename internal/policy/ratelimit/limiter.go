// Package ratelimit implements the outbound request rate limiter: a
// bounded budget of requests over a rolling window, with blocking acquire.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hemdata/listingharvester/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// Capacity is the number of requests allowed per Window.
	Capacity int
	// Window is the rolling window duration.
	Window time.Duration
	// MaxDelay caps how long a single Acquire may block. Zero means one
	// full Window.
	MaxDelay time.Duration
}

// Limiter bounds the outbound request rate. Safe for concurrent callers;
// the crawl loop is sequential today but the guard does not assume that.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	maxDelay time.Duration
}

// New creates a Limiter issuing at most cfg.Capacity requests per
// cfg.Window. A non-positive capacity disables limiting.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	burst := 1
	if cfg.Capacity > 0 && cfg.Window > 0 {
		limit = rate.Limit(float64(cfg.Capacity) / cfg.Window.Seconds())
		burst = cfg.Capacity
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = cfg.Window
	}
	return &Limiter{
		limiter:  rate.NewLimiter(limit, burst),
		maxDelay: maxDelay,
	}
}

// Acquire blocks until issuing one more request would not exceed the
// budget. When the budget is exhausted it sleeps exactly until the oldest
// request in the window expires; work is never dropped. The wait is capped
// by MaxDelay and by ctx so the process stays responsive to cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx := ctx
	if l.maxDelay > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxDelay)
		defer cancel()
	}

	l.mu.Lock()
	limiter := l.limiter
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(waitCtx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}
