package jobscheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/jobscheduler/keys"
)

// Subscriber opens pattern subscriptions. *redis.Client,
// *redis.ClusterClient and redis.UniversalClient implement it.
type Subscriber interface {
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Listener states
const (
	listenerIdle = iota
	listenerSubscribed
	listenerClosed
)

// Listener turns Redis expiry notifications into handler calls.
//
// It needs two connections: a subscription on sub, which can do nothing but
// receive messages, and client for reading and deleting shadow entries.
// Notifications are handled one at a time, in the order Redis delivers them.
//
// Failures on the dispatch path (malformed key, unknown handler, missing or
// corrupt shadow, handler error) end that one dispatch: they are logged,
// counted and passed to the WithErrorHandler callback, and the listener
// moves on to the next notification.
//
// Example:
//
//	l := jobscheduler.NewListener(rdb, subClient, registry, jobscheduler.WithDB(0))
//	if err := l.Listen(ctx); err != nil {
//	    return err
//	}
//	defer l.Close(ctx)
type Listener struct {
	id       string
	client   redis.Cmdable
	sub      Subscriber
	registry *Registry
	opts     *options
	logger   *slog.Logger
	tel      *telemetry

	mu     sync.Mutex
	state  int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a listener. Call Listen to start receiving.
func NewListener(client redis.Cmdable, sub Subscriber, registry *Registry, opts ...Option) *Listener {
	o := newOptions(opts)
	if registry == nil {
		registry = NewRegistry()
	}
	id := uuid.NewString()
	return &Listener{
		id:       id,
		client:   client,
		sub:      sub,
		registry: registry,
		opts:     o,
		logger:   o.logger.With("component", "jobscheduler.listener", "listener", id),
		tel:      newTelemetry(o),
	}
}

// ID returns the listener instance id used in logs.
func (l *Listener) ID() string {
	return l.id
}

// Channel returns the keyevent channel the listener subscribes to.
func (l *Listener) Channel() string {
	return keys.ExpiredChannel(l.opts.db)
}

// Listen subscribes to the expiry channel and starts dispatching.
//
// It returns once the subscription is confirmed by Redis; ctx bounds only
// that step. Dispatching continues in the background until Close.
func (l *Listener) Listen(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case listenerSubscribed:
		return ErrAlreadyListening
	case listenerClosed:
		return ErrListenerClosed
	}

	channel := l.Channel()
	pubsub := l.sub.PSubscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("psubscribe %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state = listenerSubscribed

	go l.run(runCtx, pubsub)

	l.logger.Info("listener subscribed",
		"channel", channel,
		"namespace", l.opts.keys.Namespace)
	return nil
}

// Close stops dispatching and closes the subscription. It waits for the
// dispatch in progress, if any, until ctx is done. Calling Close more than
// once is safe.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	prev := l.state
	l.state = listenerClosed
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if prev != listenerSubscribed {
		return nil
	}

	cancel()
	select {
	case <-done:
		l.logger.Debug("listener closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) run(ctx context.Context, pubsub *redis.PubSub) {
	defer close(l.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				l.logger.Warn("subscription channel closed")
				return
			}
			l.handle(ctx, msg.Payload)
		}
	}
}

// handle dispatches one notification and reports its failure. Nothing is
// returned: one bad notification must not stop the ones after it.
func (l *Listener) handle(ctx context.Context, key string) {
	err := l.Dispatch(ctx, key)
	if err == nil {
		return
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		l.logger.Debug("dispatch interrupted by shutdown", "key", key)
		return
	}

	reason := failureReason(err)
	level := slog.LevelWarn
	if reason == reasonHandlerError || reason == reasonStoreError {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "dispatch failed",
		"key", key,
		"reason", reason,
		"error", err)

	l.opts.onError(&DispatchError{Key: key, Err: err})
}

// Dispatch processes a single expired key the way the listener does for
// each notification. It is exported for replaying keys and for tests.
//
// Keys outside the namespace are ignored and return nil. Otherwise the
// key is decoded, the handler looked up, the shadow entry read and decoded,
// the handler called and, if it succeeds, the shadow entry deleted. A
// failure to delete the shadow is logged only; the entry expires anyway.
func (l *Listener) Dispatch(ctx context.Context, key string) error {
	if !l.opts.keys.Owns(key) {
		return nil
	}

	ctx, span := l.tel.tracer.Start(ctx, "jobscheduler.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String(attrKey, key)))
	defer span.End()

	handlerName, id, err := l.opts.keys.Decode(key)
	if err != nil {
		return l.tel.failure(ctx, span, "", reasonMalformedKey, err)
	}
	span.SetAttributes(
		attribute.String(attrHandler, handlerName),
		attribute.String(attrJobID, id))

	fn, err := l.registry.Lookup(handlerName)
	if err != nil {
		return l.tel.failure(ctx, span, handlerName, reasonHandlerNotFound, err)
	}

	if err := l.opts.limiter.Wait(ctx); err != nil {
		return l.tel.failure(ctx, span, handlerName, reasonStoreError, fmt.Errorf("rate limit: %w", err))
	}

	shadow := l.opts.keys.ShadowOf(key)
	raw, err := l.client.Get(ctx, shadow).Bytes()
	if errors.Is(err, redis.Nil) {
		return l.tel.failure(ctx, span, handlerName, reasonShadowMissing,
			fmt.Errorf("%w: %s", ErrShadowMissing, shadow))
	}
	if err != nil {
		return l.tel.failure(ctx, span, handlerName, reasonStoreError, fmt.Errorf("get shadow: %w", err))
	}

	var value any
	if err := l.opts.codec.Decode(raw, &value); err != nil {
		return l.tel.failure(ctx, span, handlerName, reasonPayloadCorrupt,
			fmt.Errorf("%w: %s: %v", ErrPayloadCorrupt, shadow, err))
	}

	job := &Job{
		Handler: handlerName,
		ID:      id,
		Key:     key,
		Payload: value,
		Raw:     raw,
		codec:   l.opts.codec,
	}

	start := time.Now()
	err = fn(ctx, job)
	l.tel.handlerDuration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String(attrHandler, handlerName)))
	if err != nil {
		return l.tel.failure(ctx, span, handlerName, reasonHandlerError,
			&HandlerError{Handler: handlerName, ID: id, Err: err})
	}

	l.tel.dispatched.Add(ctx, 1, metric.WithAttributes(attribute.String(attrHandler, handlerName)))
	l.logger.Debug("dispatched job", "handler", handlerName, "id", id)

	if err := l.client.Del(ctx, shadow).Err(); err != nil {
		l.logger.Warn("failed to delete shadow entry",
			"key", shadow,
			"error", err)
	}
	return nil
}
