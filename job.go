package jobscheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/jobscheduler/payload"
)

// HandlerFunc processes one dispatched job.
//
// Handlers run synchronously on the listener goroutine: a slow handler
// delays every notification queued behind it. Hand long work off to a
// goroutine or a queue. A returned error is logged and reported, never
// retried; the shadow entry is then left to expire on its own.
type HandlerFunc func(ctx context.Context, job *Job) error

// Job is what a handler receives when its trigger expires.
type Job struct {
	// Handler is the registered handler name.
	Handler string

	// ID is the caller-supplied job identifier.
	ID string

	// Key is the expired trigger key.
	Key string

	// Payload is the shadow value decoded into a generic value (for JSON:
	// nil, bool, float64, string, []any or map[string]any).
	Payload any

	// Raw is the undecoded shadow value.
	Raw []byte

	codec payload.Codec
}

// Bind decodes the raw payload into v, which must be a pointer.
//
//	var r Reminder
//	if err := job.Bind(&r); err != nil {
//	    return err
//	}
func (j *Job) Bind(v any) error {
	codec := j.codec
	if codec == nil {
		codec = payload.Default()
	}
	if err := codec.Decode(j.Raw, v); err != nil {
		return fmt.Errorf("%w: bind %s: %v", ErrPayloadCorrupt, j.Key, err)
	}
	return nil
}

// Scheduled describes a job written to the store.
type Scheduled struct {
	Handler    string
	ID         string
	TriggerKey string
	ShadowKey  string

	// TTL is the trigger lifetime, in whole seconds.
	TTL time.Duration

	// ShadowTTL is the shadow lifetime, TTL plus keys.Grace when freshly
	// scheduled.
	ShadowTTL time.Duration

	// FireAt is when the trigger is expected to expire.
	FireAt time.Time
}
