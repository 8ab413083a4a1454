package jobscheduler

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/jobscheduler/keys"
	"github.com/rbaliyan/jobscheduler/payload"
	"github.com/rbaliyan/jobscheduler/ratelimit"
)

// options is shared by New, NewListener and Connect. Each constructor only
// reads the fields it needs.
type options struct {
	keys                   keys.Codec
	codec                  payload.Codec
	logger                 *slog.Logger
	db                     int
	onError                func(error)
	limiter                ratelimit.Limiter
	meterProvider          metric.MeterProvider
	tracerProvider         trace.TracerProvider
	configureNotifications bool
	cleanupTimeout         time.Duration
	now                    func() time.Time
}

// Option configures a Scheduler, Listener or Connect.
//
// Use the With* functions to configure options:
//
//	s := jobscheduler.New(rdb, registry,
//	    jobscheduler.WithNamespace("billing"),
//	    jobscheduler.WithLogger(logger),
//	)
type Option func(*options)

// DefaultCleanupTimeout bounds the compensating cancel issued when a
// schedule is only half written.
const DefaultCleanupTimeout = 5 * time.Second

func newOptions(opts []Option) *options {
	o := &options{
		keys:                   keys.Default,
		codec:                  payload.Default(),
		logger:                 slog.Default(),
		onError:                func(error) {},
		limiter:                ratelimit.Unlimited{},
		meterProvider:          otel.GetMeterProvider(),
		tracerProvider:         otel.GetTracerProvider(),
		configureNotifications: true,
		cleanupTimeout:         DefaultCleanupTimeout,
		now:                    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithNamespace sets the key namespace. Default: "job_scheduler".
//
// Scheduler and Listener must agree on it; keys from other namespaces are
// ignored by the listener.
func WithNamespace(namespace string) Option {
	return func(o *options) {
		if namespace != "" {
			o.keys = keys.New(namespace)
		}
	}
}

// WithPayloadCodec sets the payload codec. Default: payload.JSON.
func WithPayloadCodec(c payload.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets the base logger. A "component" attribute is added per
// component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDB sets the logical database whose expiry events the listener
// subscribes to. It must match the database the command client writes to.
// Connect sets it from the connection configuration.
func WithDB(db int) Option {
	return func(o *options) {
		if db >= 0 {
			o.db = db
		}
	}
}

// WithErrorHandler sets a callback for failed dispatches. It receives a
// *DispatchError and runs on the listener goroutine.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// WithDispatchRateLimit throttles handler invocations to rps per second
// with bursts of up to burst.
func WithDispatchRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		if rps > 0 {
			o.limiter = ratelimit.NewTokenBucket(rps, burst)
		}
	}
}

// WithLimiter sets a custom dispatch limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *options) {
		if l != nil {
			o.limiter = l
		}
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider.
// Default: the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
// Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithNotificationConfig controls whether Connect enables expired-key
// events with CONFIG SET. Default: true.
func WithNotificationConfig(enabled bool) Option {
	return func(o *options) {
		o.configureNotifications = enabled
	}
}

// WithCleanupTimeout bounds the compensating cancel after a failed schedule.
func WithCleanupTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cleanupTimeout = d
		}
	}
}

// WithClock overrides time.Now for ScheduleAt and Get.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
