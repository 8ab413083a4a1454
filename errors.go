package jobscheduler

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/jobscheduler/keys"
)

// Sentinel errors. Use errors.Is() to check for them: they are usually
// wrapped with the handler, id or key involved.
var (
	// ErrInvalidHandlerName is returned by Register and the schedule
	// methods for empty names, names containing "__" and names ending
	// with an underscore.
	ErrInvalidHandlerName = keys.ErrInvalidHandlerName

	// ErrHandlerNotFound is returned when scheduling for a handler that is
	// not registered, and reported when a notification names one.
	ErrHandlerNotFound = errors.New("jobscheduler: handler not found")

	// ErrNilHandler is returned when registering a nil HandlerFunc.
	ErrNilHandler = errors.New("jobscheduler: nil handler")

	// ErrPastOrZeroDelay is returned when the requested fire time is not in
	// the future. No store command is issued.
	ErrPastOrZeroDelay = errors.New("jobscheduler: delay must be positive")

	// ErrMalformedKey is reported when an expired key inside the namespace
	// cannot be decoded.
	ErrMalformedKey = keys.ErrMalformedKey

	// ErrShadowMissing is reported when the shadow entry is gone by the
	// time the trigger expiry is processed. The job is dropped.
	ErrShadowMissing = errors.New("jobscheduler: shadow entry missing")

	// ErrPayloadCorrupt is reported when a shadow value cannot be decoded,
	// and returned when a payload cannot be encoded.
	ErrPayloadCorrupt = errors.New("jobscheduler: payload corrupt")

	// ErrUnexpectedReply is returned when Redis acknowledges a write with
	// something other than OK.
	ErrUnexpectedReply = errors.New("jobscheduler: unexpected store reply")

	// ErrJobNotFound is returned by Get when no trigger entry exists.
	ErrJobNotFound = errors.New("jobscheduler: job not found")

	// ErrListenerClosed is returned by Listen after Close.
	ErrListenerClosed = errors.New("jobscheduler: listener closed")

	// ErrAlreadyListening is returned by a second call to Listen.
	ErrAlreadyListening = errors.New("jobscheduler: listener already started")
)

// DispatchError describes a notification that did not lead to a successful
// handler call. It is what the listener passes to the WithErrorHandler
// callback; nothing else ever sees it.
type DispatchError struct {
	Key string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Key, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// HandlerError wraps an error returned by a registered handler.
type HandlerError struct {
	Handler string
	ID      string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q failed for job %q: %v", e.Handler, e.ID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsHandlerError checks if an error came from a handler rather than from
// the dispatch protocol.
func IsHandlerError(err error) bool {
	var handlerErr *HandlerError
	return errors.As(err, &handlerErr)
}

// PanicError is returned by handlers wrapped with Recoverer when they panic.
type PanicError struct {
	Handler string
	ID      string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %q panicked for job %q: %v", e.Handler, e.ID, e.Value)
}

// IsPanic checks if an error indicates a recovered handler panic.
func IsPanic(err error) bool {
	var panicErr *PanicError
	return errors.As(err, &panicErr)
}
