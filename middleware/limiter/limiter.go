package limiter

import (
	"fmt"

	"github.com/sweetpotato0/askdb/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter is a token-bucket limiter over agent runs.
type RateLimiter struct {
	limiter *rate.Limiter
	wait    bool
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithWait makes the limiter block until a token is available (or the run's
// context ends) instead of rejecting the run.
func WithWait() Option {
	return func(m *RateLimiter) {
		m.wait = true
	}
}

// New creates a rate limiting middleware allowing perSecond runs per second
// with bursts of up to burst.
func New(perSecond float64, burst int, opts ...Option) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	m := &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the middleware name
func (m *RateLimiter) Name() string {
	return "RateLimiter"
}

// Execute checks rate limit
func (m *RateLimiter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if m.wait {
		if err := m.limiter.Wait(ctx.Context()); err != nil {
			return fmt.Errorf("%w: %w", middleware.ErrRateLimitExceeded, err)
		}
		return next(ctx)
	}
	if !m.limiter.Allow() {
		return middleware.ErrRateLimitExceeded
	}
	return next(ctx)
}

// Tokens returns the number of runs currently available.
func (m *RateLimiter) Tokens() float64 {
	return m.limiter.Tokens()
}
