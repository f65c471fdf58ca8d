package control

import (
	"context"

	"github.com/jathurchan/mcastlock/logger"
	"golang.org/x/time/rate"
)

// RateLimiter defines the interface for request rate limiting.
type RateLimiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// TokenBucketRateLimiter implements rate limiting using a token bucket algorithm.
type TokenBucketRateLimiter struct {
	limiter *rate.Limiter
	logger  logger.Logger
}

// NewTokenBucketRateLimiter creates a limiter admitting perSecond requests per second
// with bursts of up to burst. A non-positive perSecond disables limiting.
func NewTokenBucketRateLimiter(perSecond float64, burst int, log logger.Logger) *TokenBucketRateLimiter {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
		log.Warnw("Rate limit is zero or negative, disabling rate limiter.", "rate", perSecond)
	}
	if burst <= 0 {
		burst = 1
		if limit != rate.Inf {
			log.Warnw("Rate limit burst is zero or negative, setting to 1.", "burst", burst)
		}
	}

	return &TokenBucketRateLimiter{
		limiter: rate.NewLimiter(limit, burst),
		logger:  log,
	}
}

// Allow returns true if a request can proceed immediately.
func (rl *TokenBucketRateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Wait blocks until a request can proceed or the context is cancelled.
func (rl *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}
