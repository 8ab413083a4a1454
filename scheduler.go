package jobscheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/jobscheduler/keys"
)

// Scheduler writes and removes scheduled jobs.
//
// Each job is two Redis strings (see package keys):
//   - trigger: empty value, TTL = delay rounded to whole seconds
//   - shadow:  encoded payload, TTL = delay + keys.Grace
//
// Redis expires the trigger at the right moment and publishes the key name
// on its keyevent channel; a Listener turns that into a handler call. The
// Scheduler itself runs no goroutines and holds no timers.
//
// Example:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	registry := jobscheduler.NewRegistry()
//	registry.Register("reminder", sendReminder)
//
//	s := jobscheduler.New(rdb, registry)
//	s.ScheduleIn(ctx, "reminder", uuid.NewString(), 15*time.Minute, Reminder{UserID: "u-1"})
type Scheduler struct {
	client   redis.Cmdable
	registry *Registry
	opts     *options
	logger   *slog.Logger
	tel      *telemetry
}

// New creates a Scheduler issuing commands through client.
//
// The registry is consulted on every schedule call; pass the same registry
// to the Listener that dispatches the jobs.
func New(client redis.Cmdable, registry *Registry, opts ...Option) *Scheduler {
	o := newOptions(opts)
	if registry == nil {
		registry = NewRegistry()
	}
	return &Scheduler{
		client:   client,
		registry: registry,
		opts:     o,
		logger:   o.logger.With("component", "jobscheduler.scheduler"),
		tel:      newTelemetry(o),
	}
}

// Registry returns the handler registry.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// AddHandler registers fn under name. See Registry.Register.
func (s *Scheduler) AddHandler(name string, fn HandlerFunc) error {
	return s.registry.Register(name, fn)
}

// ScheduleIn schedules a job to fire after delay.
//
// Preconditions are checked in order, before any store command:
//   - handler is a valid name, else ErrInvalidHandlerName
//   - handler is registered, else ErrHandlerNotFound
//   - delay is positive, else ErrPastOrZeroDelay
//
// The delay is rounded to the nearest whole second, with a minimum of one
// second. Scheduling an existing (handler, id) pair overwrites it.
//
// If either write fails the job is cancelled before the error is returned,
// so no half-written job is left behind. Errors from that cleanup are
// logged, not returned.
func (s *Scheduler) ScheduleIn(ctx context.Context, handler, id string, delay time.Duration, payload any) (*Scheduled, error) {
	if err := keys.ValidateHandler(handler); err != nil {
		return nil, err
	}
	if !s.registry.Has(handler) {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, handler)
	}
	if delay <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrPastOrZeroDelay, delay)
	}

	data, err := s.opts.codec.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", ErrPayloadCorrupt, s.opts.codec.ContentType(), err)
	}

	ttl := roundTTL(delay)
	job := &Scheduled{
		Handler:    handler,
		ID:         id,
		TriggerKey: s.opts.keys.Trigger(handler, id),
		ShadowKey:  s.opts.keys.Shadow(handler, id),
		TTL:        ttl,
		ShadowTTL:  ttl + keys.Grace,
		FireAt:     s.opts.now().Add(ttl),
	}

	ctx, span := s.tel.tracer.Start(ctx, "jobscheduler.schedule",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(attrHandler, handler),
			attribute.String(attrJobID, id),
			attribute.String(attrKey, job.TriggerKey)))
	defer span.End()

	if err := s.set(ctx, job.TriggerKey, "", job.TTL); err != nil {
		return nil, s.abort(ctx, span, job, fmt.Errorf("set trigger: %w", err))
	}
	if err := s.set(ctx, job.ShadowKey, data, job.ShadowTTL); err != nil {
		return nil, s.abort(ctx, span, job, fmt.Errorf("set shadow: %w", err))
	}

	s.tel.scheduled.Add(ctx, 1, metric.WithAttributes(attribute.String(attrHandler, handler)))
	s.logger.Debug("scheduled job",
		"handler", handler,
		"id", id,
		"ttl", job.TTL,
		"fire_at", job.FireAt)

	return job, nil
}

// ScheduleAt schedules a job to fire at a point in time.
//
// A time that is not in the future fails with ErrPastOrZeroDelay before
// anything else is checked. Otherwise it behaves like ScheduleIn with the
// remaining duration.
func (s *Scheduler) ScheduleAt(ctx context.Context, handler, id string, at time.Time, payload any) (*Scheduled, error) {
	delay := at.Sub(s.opts.now())
	if delay <= 0 {
		return nil, fmt.Errorf("%w: %s is %v in the past", ErrPastOrZeroDelay, at.Format(time.RFC3339Nano), -delay)
	}
	return s.ScheduleIn(ctx, handler, id, delay, payload)
}

// Cancel removes both entries of a job.
//
// Missing keys are not an error, so Cancel is idempotent and safe for jobs
// that already fired or never existed. A notification already in flight
// may still dispatch; if the shadow is gone by then it is dropped as
// ErrShadowMissing.
func (s *Scheduler) Cancel(ctx context.Context, handler, id string) error {
	trigger := s.opts.keys.Trigger(handler, id)
	shadow := s.opts.keys.ShadowOf(trigger)

	// Two DELs rather than one: the keys hash to different cluster slots.
	var triggerDel, shadowDel *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		triggerDel = pipe.Del(ctx, trigger)
		shadowDel = pipe.Del(ctx, shadow)
		return nil
	})
	if err != nil {
		return fmt.Errorf("del: %w", err)
	}

	found := triggerDel.Val() > 0
	s.tel.cancelled.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrHandler, handler),
		attribute.Bool("found", found)))
	s.logger.Debug("cancelled job",
		"handler", handler,
		"id", id,
		"trigger_deleted", found,
		"shadow_deleted", shadowDel.Val() > 0)

	return nil
}

// Get returns the remaining lifetime of a scheduled job.
// Returns ErrJobNotFound if the trigger entry does not exist.
func (s *Scheduler) Get(ctx context.Context, handler, id string) (*Scheduled, error) {
	trigger := s.opts.keys.Trigger(handler, id)
	shadow := s.opts.keys.ShadowOf(trigger)

	var triggerTTL, shadowTTL *redis.DurationCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		triggerTTL = pipe.PTTL(ctx, trigger)
		shadowTTL = pipe.PTTL(ctx, shadow)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pttl: %w", err)
	}

	// PTTL replies -2 for a missing key and -1 for a key without expiry.
	ttl := triggerTTL.Val()
	if ttl < 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, trigger)
	}

	return &Scheduled{
		Handler:    handler,
		ID:         id,
		TriggerKey: trigger,
		ShadowKey:  shadow,
		TTL:        ttl,
		ShadowTTL:  max(shadowTTL.Val(), 0),
		FireAt:     s.opts.now().Add(ttl),
	}, nil
}

// Ping checks the store connection.
func (s *Scheduler) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// set issues SET key value EX ttl and insists on an OK reply.
func (s *Scheduler) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	reply, err := s.client.Set(ctx, key, value, ttl).Result()
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("%w: SET %s replied %q", ErrUnexpectedReply, key, reply)
	}
	return nil
}

// abort cancels a half-written job and returns err. The cleanup runs on a
// context detached from ctx, which may be the reason the write failed.
func (s *Scheduler) abort(ctx context.Context, span trace.Span, job *Scheduled, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "schedule failed")
	s.tel.scheduleFailed.Add(ctx, 1, metric.WithAttributes(attribute.String(attrHandler, job.Handler)))

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.cleanupTimeout)
	defer cancel()
	if cleanupErr := s.Cancel(cleanupCtx, job.Handler, job.ID); cleanupErr != nil {
		s.logger.Warn("failed to clean up partially scheduled job",
			"handler", job.Handler,
			"id", job.ID,
			"error", cleanupErr)
	}

	s.logger.Error("failed to schedule job",
		"handler", job.Handler,
		"id", job.ID,
		"error", err)
	return err
}

// roundTTL rounds d to the nearest second, half away from zero, and never
// returns less than one second: Redis rejects EX 0.
func roundTTL(d time.Duration) time.Duration {
	ttl := d.Round(time.Second)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// IsStoreError reports whether err came from the store rather than from a
// precondition or the payload codec.
func IsStoreError(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range []error{
		ErrInvalidHandlerName, ErrHandlerNotFound, ErrPastOrZeroDelay,
		ErrPayloadCorrupt, ErrNilHandler, ErrJobNotFound,
	} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}
