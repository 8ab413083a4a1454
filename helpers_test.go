package jobscheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const waitTimeout = 2 * time.Second

// newTestRedis starts an in-process Redis and returns a RESP2 client for it.
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, newTestClient(t, mr)
}

func newTestClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// expire simulates Redis expiring a trigger: the clock moves past the TTL
// and the key name is published on the keyevent channel.
func expire(mr *miniredis.Miniredis, job *Scheduled) {
	mr.FastForward(job.TTL)
	mr.Publish("__keyevent@0__:expired", job.TriggerKey)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func noop(context.Context, *Job) error { return nil }

// hook intercepts single commands on a client.
type hook struct {
	match func(cmd redis.Cmder) bool
	apply func(cmd redis.Cmder) error
}

func (h *hook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *hook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if h.match(cmd) {
			return h.apply(cmd)
		}
		return next(ctx, cmd)
	}
}

func (h *hook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

// isSet matches SET commands on key.
func isSet(key string) func(redis.Cmder) bool {
	return func(cmd redis.Cmder) bool {
		args := cmd.Args()
		return cmd.Name() == "set" && len(args) > 1 && args[1] == key
	}
}

// failWith makes a matched command fail with err.
func failWith(err error) func(redis.Cmder) error {
	return func(cmd redis.Cmder) error {
		cmd.SetErr(err)
		return err
	}
}
