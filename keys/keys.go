// Package keys implements the Redis key protocol used by the job scheduler.
//
// A scheduled job is represented by two keys:
//
//	job_scheduler:<handler>__<id>          trigger, empty value, TTL = delay
//	shadow:job_scheduler:<handler>__<id>   shadow, payload, TTL = delay + Grace
//
// The trigger key exists only to produce a keyspace expiry event. The shadow
// key outlives it so the payload can still be read once the event arrives.
//
// Handler names must not contain the Delimiter. Identifiers may: decoding
// splits on the first Delimiter, so everything after it belongs to the id.
package keys

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultNamespace is the key prefix used when none is configured.
	DefaultNamespace = "job_scheduler"

	// Delimiter separates the handler name from the job id.
	Delimiter = "__"

	// ShadowPrefix is prepended to a trigger key to form its shadow key.
	ShadowPrefix = "shadow:"

	// Grace is how much longer a shadow key lives than its trigger.
	Grace = 60 * time.Second
)

var (
	// ErrMalformedKey is returned when a key cannot be decoded into a
	// handler name and job id.
	ErrMalformedKey = errors.New("jobscheduler: malformed key")

	// ErrInvalidHandlerName is returned for empty handler names and names
	// containing the Delimiter.
	ErrInvalidHandlerName = errors.New("jobscheduler: invalid handler name")
)

// Default is the codec for DefaultNamespace.
var Default = New(DefaultNamespace)

// Codec encodes and decodes trigger and shadow keys for one namespace.
// The zero value uses DefaultNamespace.
type Codec struct {
	Namespace string
}

// New returns a codec for the given namespace. An empty namespace selects
// DefaultNamespace.
func New(namespace string) Codec {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Codec{Namespace: namespace}
}

func (c Codec) prefix() string {
	if c.Namespace == "" {
		return DefaultNamespace + ":"
	}
	return c.Namespace + ":"
}

// Trigger returns the trigger key for a job: <namespace>:<handler>__<id>.
func (c Codec) Trigger(handler, id string) string {
	return c.prefix() + handler + Delimiter + id
}

// Shadow returns the shadow key for a job: shadow:<namespace>:<handler>__<id>.
func (c Codec) Shadow(handler, id string) string {
	return ShadowPrefix + c.Trigger(handler, id)
}

// ShadowOf returns the shadow key for an already encoded trigger key.
func (c Codec) ShadowOf(trigger string) string {
	return ShadowPrefix + trigger
}

// Owns reports whether key belongs to this codec's namespace. Shadow keys
// are not owned: their expiry never triggers a dispatch.
func (c Codec) Owns(key string) bool {
	return strings.HasPrefix(key, c.prefix())
}

// Decode splits a trigger key into its handler name and job id.
//
// The handler is the text between the namespace prefix and the first
// Delimiter; the id is everything after it, verbatim.
func (c Codec) Decode(key string) (handler, id string, err error) {
	rest, ok := strings.CutPrefix(key, c.prefix())
	if !ok {
		return "", "", fmt.Errorf("%w: %q outside namespace %q", ErrMalformedKey, key, c.Namespace)
	}
	handler, id, ok = strings.Cut(rest, Delimiter)
	if !ok {
		return "", "", fmt.Errorf("%w: %q has no %q delimiter", ErrMalformedKey, key, Delimiter)
	}
	if handler == "" {
		return "", "", fmt.Errorf("%w: %q has an empty handler name", ErrMalformedKey, key)
	}
	return handler, id, nil
}

// ValidateHandler checks that name can be used as a handler name.
//
// Besides the Delimiter itself, a trailing underscore is rejected: it would
// run into the Delimiter ("x_" + "__" reads as "x" + "__" + "_...") and the
// key would decode to a different handler.
func ValidateHandler(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidHandlerName)
	}
	if strings.Contains(name, Delimiter) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidHandlerName, name, Delimiter)
	}
	if strings.HasSuffix(name, "_") {
		return fmt.Errorf("%w: %q ends with an underscore", ErrInvalidHandlerName, name)
	}
	return nil
}

// ExpiredChannel returns the keyevent channel on which Redis publishes
// expirations for logical database db.
func ExpiredChannel(db int) string {
	return fmt.Sprintf("__keyevent@%d__:expired", db)
}
