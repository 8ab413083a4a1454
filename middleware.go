package jobscheduler

import (
	"context"
	"runtime/debug"
	"time"
)

// Middleware wraps a HandlerFunc.
//
// The scheduler never applies middleware by itself. In particular a
// panicking handler takes the listener goroutine, and the process, down
// unless it is registered behind Recoverer:
//
//	registry.Register("reminder", jobscheduler.Chain(
//	    jobscheduler.Recoverer(),
//	    jobscheduler.Timeout(5*time.Second),
//	)(sendReminder))
type Middleware func(HandlerFunc) HandlerFunc

// Chain composes middleware. The first one is the outermost.
func Chain(mw ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}

// Recoverer converts a handler panic into a *PanicError.
func Recoverer() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, job *Job) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{
						Handler: job.Handler,
						ID:      job.ID,
						Value:   r,
						Stack:   debug.Stack(),
					}
				}
			}()
			return next(ctx, job)
		}
	}
}

// Timeout gives each handler call a context deadline of d. Handlers that
// ignore their context are not interrupted.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, job *Job) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, job)
		}
	}
}
