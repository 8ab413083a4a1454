// Package jobscheduler runs delayed jobs on Redis key expiry.
//
// There is no timer in the application. Scheduling a job writes two keys
// with a TTL; when Redis expires the trigger key it publishes the key name
// on __keyevent@<db>__:expired, and a Listener subscribed to that channel
// reads the payload from the longer-lived shadow key and calls the handler
// registered for the job.
//
// Delivery is at-least-once at best: a notification lost by Redis, or
// processed after the shadow key's grace period, drops the job. Jobs are as
// durable as the Redis dataset.
//
// # Basic usage
//
//	registry := jobscheduler.NewRegistry()
//	err := registry.Register("reminder", func(ctx context.Context, job *jobscheduler.Job) error {
//	    var r Reminder
//	    if err := job.Bind(&r); err != nil {
//	        return err
//	    }
//	    return send(ctx, r)
//	})
//
//	js, err := jobscheduler.Connect(ctx, config.Redis{Host: "127.0.0.1", Port: 6379}, registry)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer js.Disconnect(context.Background())
//
//	// Fire in 15 seconds
//	js.ScheduleIn(ctx, "reminder", uuid.NewString(), 15*time.Second, Reminder{UserID: "u-1"})
//
//	// Fire at a given time
//	js.ScheduleAt(ctx, "reminder", id, tomorrow, Reminder{UserID: "u-2"})
//
//	// Cancel, idempotent
//	js.Cancel(ctx, "reminder", id)
//
// # Building blocks
//
// Connect is a convenience. The pieces can be wired by hand, for example to
// share clients with the rest of an application:
//
//   - Registry: handler name to HandlerFunc
//   - Scheduler: ScheduleIn, ScheduleAt, Cancel, Get over a redis.Cmdable
//   - Listener: the subscription loop, on its own connection
//
// Scheduler and Listener must share the registry, the namespace and the
// payload codec.
//
// # Handlers
//
// Handlers run one at a time on the listener goroutine. A slow handler
// delays every dispatch after it; a panicking one crashes the process unless
// wrapped with Recoverer. Handler errors are logged and reported through
// WithErrorHandler, never retried.
//
// # Key protocol
//
// See package keys. Handler names must not contain "__" or end with "_".
package jobscheduler
