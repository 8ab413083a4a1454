// Package payload encodes job payloads into shadow key values.
//
// The wire format is JSON by default: the payload given to Schedule is
// marshaled as-is, and an absent (nil) payload is stored as the literal
// "null". MessagePack is available for deployments that control both the
// scheduling and dispatching side:
//
//	s := jobscheduler.New(rdb, registry, jobscheduler.WithPayloadCodec(payload.MsgPack{}))
//
// Both ends must use the same codec; a shadow value the listener cannot
// decode is dropped as corrupt.
package payload

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Codec encodes and decodes job payloads.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes the payload. A nil payload must encode successfully.
	Encode(v any) ([]byte, error)

	// Decode deserializes data into v, which must be a pointer.
	Decode(data []byte, v any) error

	// Name is the short name used in configuration ("json").
	Name() string

	// ContentType returns the MIME type ("application/json").
	ContentType() string
}

// ErrUnknownCodec is returned by Lookup.
var ErrUnknownCodec = errors.New("payload: unknown codec")

// Default returns the default codec (JSON).
func Default() Codec {
	return JSON{}
}

var (
	mu     sync.RWMutex
	codecs = map[string]Codec{}
)

func init() {
	Register(JSON{})
	Register(MsgPack{})
}

// Register makes a codec available to Lookup under both its name and its
// content type. A later registration under the same name wins.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()
	codecs[strings.ToLower(c.Name())] = c
	codecs[strings.ToLower(c.ContentType())] = c
}

// Lookup finds a codec by name or content type, case-insensitively. An
// empty string selects the default.
func Lookup(name string) (Codec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Default(), nil
	}
	mu.RLock()
	defer mu.RUnlock()
	if c, ok := codecs[key]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// Names returns the short names of the registered codecs, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	seen := make(map[string]bool)
	for _, c := range codecs {
		seen[c.Name()] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
