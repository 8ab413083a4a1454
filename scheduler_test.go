package jobscheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/jobscheduler/keys"
)

func newTestScheduler(t *testing.T, client redis.Cmdable, opts ...Option) *Scheduler {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register("exampleHandler", noop); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return New(client, registry, opts...)
}

func TestScheduleIn(t *testing.T) {
	t.Run("writes trigger and shadow", func(t *testing.T) {
		mr, client := newTestRedis(t)
		s := newTestScheduler(t, client)
		ctx := context.Background()

		job, err := s.ScheduleIn(ctx, "exampleHandler", "job-1", 15*time.Second, map[string]any{"foo": "bar", "a": 1})
		if err != nil {
			t.Fatalf("ScheduleIn failed: %v", err)
		}

		if job.TriggerKey != "job_scheduler:exampleHandler__job-1" {
			t.Errorf("unexpected trigger key %q", job.TriggerKey)
		}
		if job.ShadowKey != "shadow:job_scheduler:exampleHandler__job-1" {
			t.Errorf("unexpected shadow key %q", job.ShadowKey)
		}

		value, err := mr.Get(job.TriggerKey)
		if err != nil {
			t.Fatalf("trigger missing: %v", err)
		}
		if value != "" {
			t.Errorf("expected empty trigger value, got %q", value)
		}
		if ttl := mr.TTL(job.TriggerKey); ttl != 15*time.Second {
			t.Errorf("expected trigger ttl 15s, got %v", ttl)
		}

		shadow, err := mr.Get(job.ShadowKey)
		if err != nil {
			t.Fatalf("shadow missing: %v", err)
		}
		if shadow != `{"a":1,"foo":"bar"}` {
			t.Errorf("unexpected shadow value %s", shadow)
		}
		if ttl := mr.TTL(job.ShadowKey); ttl != 15*time.Second+keys.Grace {
			t.Errorf("expected shadow ttl 75s, got %v", ttl)
		}
	})

	t.Run("delay rounding", func(t *testing.T) {
		tests := []struct {
			delay time.Duration
			want  time.Duration
		}{
			{delay: 10 * time.Millisecond, want: time.Second},
			{delay: 400 * time.Millisecond, want: time.Second},
			{delay: 1500 * time.Millisecond, want: 2 * time.Second},
			{delay: 2400 * time.Millisecond, want: 2 * time.Second},
			{delay: time.Hour, want: time.Hour},
		}

		mr, client := newTestRedis(t)
		s := newTestScheduler(t, client)
		for _, tt := range tests {
			job, err := s.ScheduleIn(context.Background(), "exampleHandler", tt.delay.String(), tt.delay, nil)
			if err != nil {
				t.Fatalf("ScheduleIn(%v) failed: %v", tt.delay, err)
			}
			if job.TTL != tt.want {
				t.Errorf("delay %v: expected ttl %v, got %v", tt.delay, tt.want, job.TTL)
			}
			if ttl := mr.TTL(job.TriggerKey); ttl != tt.want {
				t.Errorf("delay %v: expected stored ttl %v, got %v", tt.delay, tt.want, ttl)
			}
		}
	})

	t.Run("rescheduling overwrites", func(t *testing.T) {
		mr, client := newTestRedis(t)
		s := newTestScheduler(t, client)
		ctx := context.Background()

		if _, err := s.ScheduleIn(ctx, "exampleHandler", "dup", time.Minute, "first"); err != nil {
			t.Fatalf("ScheduleIn failed: %v", err)
		}
		job, err := s.ScheduleIn(ctx, "exampleHandler", "dup", 5*time.Second, "second")
		if err != nil {
			t.Fatalf("ScheduleIn failed: %v", err)
		}
		if ttl := mr.TTL(job.TriggerKey); ttl != 5*time.Second {
			t.Errorf("expected ttl 5s, got %v", ttl)
		}
		if shadow, _ := mr.Get(job.ShadowKey); shadow != `"second"` {
			t.Errorf("expected second payload, got %s", shadow)
		}
	})

	t.Run("preconditions issue no writes", func(t *testing.T) {
		tests := []struct {
			name    string
			handler string
			delay   time.Duration
			want    error
		}{
			{name: "empty handler", handler: "", delay: time.Second, want: ErrInvalidHandlerName},
			{name: "delimiter in handler", handler: "a__b", delay: time.Second, want: ErrInvalidHandlerName},
			{name: "unregistered", handler: "missing", delay: time.Second, want: ErrHandlerNotFound},
			{name: "unregistered and zero delay", handler: "missing", delay: 0, want: ErrHandlerNotFound},
			{name: "zero delay", handler: "exampleHandler", delay: 0, want: ErrPastOrZeroDelay},
			{name: "negative delay", handler: "exampleHandler", delay: -time.Second, want: ErrPastOrZeroDelay},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				mr, client := newTestRedis(t)
				s := newTestScheduler(t, client)

				_, err := s.ScheduleIn(context.Background(), tt.handler, "id", tt.delay, nil)
				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
				if IsStoreError(err) {
					t.Errorf("precondition error classified as store error: %v", err)
				}
				if n := len(mr.Keys()); n != 0 {
					t.Errorf("expected no keys, found %d", n)
				}
			})
		}
	})

	t.Run("unencodable payload", func(t *testing.T) {
		mr, client := newTestRedis(t)
		s := newTestScheduler(t, client)

		_, err := s.ScheduleIn(context.Background(), "exampleHandler", "id", time.Second, make(chan int))
		if !errors.Is(err, ErrPayloadCorrupt) {
			t.Fatalf("expected ErrPayloadCorrupt, got %v", err)
		}
		if n := len(mr.Keys()); n != 0 {
			t.Errorf("expected no keys, found %d", n)
		}
	})

	t.Run("custom namespace", func(t *testing.T) {
		mr, client := newTestRedis(t)
		s := newTestScheduler(t, client, WithNamespace("billing"))

		job, err := s.ScheduleIn(context.Background(), "exampleHandler", "7", time.Second, nil)
		if err != nil {
			t.Fatalf("ScheduleIn failed: %v", err)
		}
		if !mr.Exists("billing:exampleHandler__7") || !mr.Exists("shadow:billing:exampleHandler__7") {
			t.Errorf("keys not written under namespace: %v", mr.Keys())
		}
		if job.TriggerKey != "billing:exampleHandler__7" {
			t.Errorf("unexpected trigger key %q", job.TriggerKey)
		}
	})
}

func TestScheduleInStoreFailure(t *testing.T) {
	trigger := keys.Default.Trigger("exampleHandler", "id")
	shadow := keys.Default.Shadow("exampleHandler", "id")
	boom := errors.New("connection reset")

	t.Run("trigger write fails", func(t *testing.T) {
		mr, client := newTestRedis(t)
		client.AddHook(&hook{match: isSet(trigger), apply: failWith(boom)})
		s := newTestScheduler(t, client)

		_, err := s.ScheduleIn(context.Background(), "exampleHandler", "id", time.Minute, "x")
		if !errors.Is(err, boom) {
			t.Fatalf("expected store error, got %v", err)
		}
		if !IsStoreError(err) {
			t.Errorf("expected store error classification for %v", err)
		}
		if n := len(mr.Keys()); n != 0 {
			t.Errorf("expected no keys, found %v", mr.Keys())
		}
	})

	t.Run("shadow write fails after trigger", func(t *testing.T) {
		mr, client := newTestRedis(t)
		client.AddHook(&hook{match: isSet(shadow), apply: failWith(boom)})
		s := newTestScheduler(t, client)

		_, err := s.ScheduleIn(context.Background(), "exampleHandler", "id", time.Minute, "x")
		if !errors.Is(err, boom) {
			t.Fatalf("expected store error, got %v", err)
		}
		if mr.Exists(trigger) {
			t.Error("trigger left behind after failed schedule")
		}
	})

	t.Run("shadow write replies without OK", func(t *testing.T) {
		mr, client := newTestRedis(t)
		client.AddHook(&hook{
			match: isSet(shadow),
			apply: func(cmd redis.Cmder) error {
				cmd.(*redis.StatusCmd).SetVal("QUEUED")
				return nil
			},
		})
		s := newTestScheduler(t, client)

		_, err := s.ScheduleIn(context.Background(), "exampleHandler", "id", time.Minute, "x")
		if !errors.Is(err, ErrUnexpectedReply) {
			t.Fatalf("expected ErrUnexpectedReply, got %v", err)
		}
		if mr.Exists(trigger) {
			t.Error("trigger left behind after unexpected reply")
		}
	})

	t.Run("cancelled context still cleans up", func(t *testing.T) {
		mr, client := newTestRedis(t)
		ctx, cancel := context.WithCancel(context.Background())
		client.AddHook(&hook{
			match: isSet(shadow),
			apply: func(cmd redis.Cmder) error {
				cancel()
				cmd.SetErr(context.Canceled)
				return context.Canceled
			},
		})
		s := newTestScheduler(t, client)

		_, err := s.ScheduleIn(ctx, "exampleHandler", "id", time.Minute, "x")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if mr.Exists(trigger) {
			t.Error("trigger left behind after cancelled schedule")
		}
	})
}

func TestScheduleAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := WithClock(func() time.Time { return now })

	t.Run("future time", func(t *testing.T) {
		mr, client := newTestRedis(t)
		s := newTestScheduler(t, client, clock)

		job, err := s.ScheduleAt(context.Background(), "exampleHandler", "at", now.Add(90*time.Second+400*time.Millisecond), nil)
		if err != nil {
			t.Fatalf("ScheduleAt failed: %v", err)
		}
		if ttl := mr.TTL(job.TriggerKey); ttl != 90*time.Second {
			t.Errorf("expected ttl 90s, got %v", ttl)
		}
		if !job.FireAt.Equal(now.Add(90 * time.Second)) {
			t.Errorf("unexpected fire time %v", job.FireAt)
		}
	})

	t.Run("past and present times", func(t *testing.T) {
		for _, at := range []time.Time{now, now.Add(-time.Second), now.Add(-24 * time.Hour)} {
			mr, client := newTestRedis(t)
			s := newTestScheduler(t, client, clock)

			_, err := s.ScheduleAt(context.Background(), "exampleHandler", "at", at, nil)
			if !errors.Is(err, ErrPastOrZeroDelay) {
				t.Errorf("at %v: expected ErrPastOrZeroDelay, got %v", at, err)
			}
			if n := len(mr.Keys()); n != 0 {
				t.Errorf("at %v: expected no keys, found %d", at, n)
			}
		}
	})

	t.Run("past time reported before unknown handler", func(t *testing.T) {
		_, client := newTestRedis(t)
		s := newTestScheduler(t, client, clock)

		_, err := s.ScheduleAt(context.Background(), "missing", "at", now.Add(-time.Minute), nil)
		if !errors.Is(err, ErrPastOrZeroDelay) {
			t.Errorf("expected ErrPastOrZeroDelay, got %v", err)
		}
	})
}

func TestCancel(t *testing.T) {
	t.Run("removes both entries", func(t *testing.T) {
		mr, client := newTestRedis(t)
		s := newTestScheduler(t, client)
		ctx := context.Background()

		job, err := s.ScheduleIn(ctx, "exampleHandler", "c1", time.Minute, "x")
		if err != nil {
			t.Fatalf("ScheduleIn failed: %v", err)
		}
		if err := s.Cancel(ctx, "exampleHandler", "c1"); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if mr.Exists(job.TriggerKey) || mr.Exists(job.ShadowKey) {
			t.Errorf("keys remain after cancel: %v", mr.Keys())
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		_, client := newTestRedis(t)
		s := newTestScheduler(t, client)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			if err := s.Cancel(ctx, "exampleHandler", "never-scheduled"); err != nil {
				t.Fatalf("Cancel #%d failed: %v", i, err)
			}
		}
	})

	t.Run("leaves other jobs alone", func(t *testing.T) {
		mr, client := newTestRedis(t)
		s := newTestScheduler(t, client)
		ctx := context.Background()

		keep, err := s.ScheduleIn(ctx, "exampleHandler", "keep", time.Minute, nil)
		if err != nil {
			t.Fatalf("ScheduleIn failed: %v", err)
		}
		if _, err := s.ScheduleIn(ctx, "exampleHandler", "drop", time.Minute, nil); err != nil {
			t.Fatalf("ScheduleIn failed: %v", err)
		}
		if err := s.Cancel(ctx, "exampleHandler", "drop"); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		if !mr.Exists(keep.TriggerKey) || !mr.Exists(keep.ShadowKey) {
			t.Error("cancel removed an unrelated job")
		}
	})

	t.Run("store failure", func(t *testing.T) {
		mr, client := newTestRedis(t)
		s := newTestScheduler(t, client)
		mr.Close()

		err := s.Cancel(context.Background(), "exampleHandler", "x")
		if err == nil {
			t.Fatal("expected error with server down")
		}
		if !IsStoreError(err) {
			t.Errorf("expected store error, got %v", err)
		}
	})
}

func TestGet(t *testing.T) {
	mr, client := newTestRedis(t)
	s := newTestScheduler(t, client)
	ctx := context.Background()

	if _, err := s.ScheduleIn(ctx, "exampleHandler", "g", 30*time.Second, nil); err != nil {
		t.Fatalf("ScheduleIn failed: %v", err)
	}

	job, err := s.Get(ctx, "exampleHandler", "g")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.TTL != 30*time.Second {
		t.Errorf("expected ttl 30s, got %v", job.TTL)
	}
	if job.ShadowTTL != 90*time.Second {
		t.Errorf("expected shadow ttl 90s, got %v", job.ShadowTTL)
	}

	mr.FastForward(10 * time.Second)
	job, err = s.Get(ctx, "exampleHandler", "g")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.TTL != 20*time.Second {
		t.Errorf("expected ttl 20s after 10s, got %v", job.TTL)
	}

	if err := s.Cancel(ctx, "exampleHandler", "g"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := s.Get(ctx, "exampleHandler", "g"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestAddHandler(t *testing.T) {
	_, client := newTestRedis(t)
	s := New(client, nil)

	if err := s.AddHandler("late", noop); err != nil {
		t.Fatalf("AddHandler failed: %v", err)
	}
	if !s.Registry().Has("late") {
		t.Error("handler not registered")
	}
	if _, err := s.ScheduleIn(context.Background(), "late", "1", time.Second, nil); err != nil {
		t.Errorf("ScheduleIn after AddHandler failed: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRoundTTL(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{in: time.Nanosecond, want: time.Second},
		{in: 499 * time.Millisecond, want: time.Second},
		{in: 500 * time.Millisecond, want: time.Second},
		{in: 1499 * time.Millisecond, want: time.Second},
		{in: 1500 * time.Millisecond, want: 2 * time.Second},
		{in: 59*time.Second + 600*time.Millisecond, want: time.Minute},
	}
	for _, tt := range tests {
		if got := roundTTL(tt.in); got != tt.want {
			t.Errorf("roundTTL(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsStoreError(t *testing.T) {
	if IsStoreError(nil) {
		t.Error("nil is not a store error")
	}
	if !IsStoreError(errors.New("i/o timeout")) {
		t.Error("plain error should be a store error")
	}
	for _, err := range []error{ErrInvalidHandlerName, ErrHandlerNotFound, ErrPastOrZeroDelay, ErrPayloadCorrupt} {
		if IsStoreError(err) {
			t.Errorf("%v classified as store error", err)
		}
	}
}
