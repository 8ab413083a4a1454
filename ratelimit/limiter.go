// Package ratelimit throttles handler invocations in the dispatch listener.
//
// Expiry notifications arrive as fast as Redis expires keys. When many jobs
// share a fire time, a burst of notifications turns into a burst of handler
// calls against whatever the handlers talk to. A Limiter placed in front of
// dispatch smooths that out while keeping notification order:
//
//	l := jobscheduler.NewListener(rdb, sub, registry,
//	    jobscheduler.WithDispatchRateLimit(50, 10))
//
// Waiting happens on the listener goroutine, so a throttled listener falls
// behind the notification stream instead of reordering it. Shadow keys live
// for keys.Grace past their trigger; a listener throttled for longer than
// that starts dropping jobs as ShadowMissing.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates dispatches.
//
// All implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether a dispatch can happen right now, consuming a
	// token if so.
	Allow(ctx context.Context) bool

	// Wait blocks until a dispatch is allowed or ctx is done.
	Wait(ctx context.Context) error
}

// TokenBucket is a local token bucket limiter backed by golang.org/x/time/rate.
//
// Tokens are added at rps per second, at most burst accumulate, and each
// dispatch consumes one.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a token bucket allowing rps dispatches per second
// with bursts of up to burst. A burst below 1 is raised to 1, otherwise
// Wait could never succeed.
func NewTokenBucket(rps float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Allow returns true if a dispatch can happen now.
func (t *TokenBucket) Allow(ctx context.Context) bool {
	return t.limiter.Allow()
}

// Wait blocks until a dispatch is allowed or ctx is cancelled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// SetLimit updates the rate dynamically.
func (t *TokenBucket) SetLimit(rps float64) {
	t.limiter.SetLimit(rate.Limit(rps))
}

// Limit returns the current rate (dispatches per second).
func (t *TokenBucket) Limit() float64 {
	return float64(t.limiter.Limit())
}

// Burst returns the current burst size.
func (t *TokenBucket) Burst() int {
	return t.limiter.Burst()
}

// Unlimited never throttles. It is the listener default.
type Unlimited struct{}

// Allow always returns true.
func (Unlimited) Allow(context.Context) bool { return true }

// Wait returns immediately unless ctx is already done.
func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

// Compile-time checks
var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = Unlimited{}
)
