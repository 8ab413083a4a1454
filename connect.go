package jobscheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/jobscheduler/config"
)

// JobScheduler is a Scheduler with its Listener and the two connections
// they run on, as built by Connect.
type JobScheduler struct {
	*Scheduler

	listener  *Listener
	client    *redis.Client
	subClient *redis.Client
}

// Connect opens the two Redis connections the scheduler needs, one for
// commands and one for the expiry subscription, and starts listening.
//
// Unless disabled with WithNotificationConfig(false), Connect makes sure
// the server publishes expired-key events by adding the "E" and "x" flags
// to notify-keyspace-events. Servers that forbid CONFIG (most managed
// offerings) log a warning; there the flags must be set server-side.
//
// Example:
//
//	registry := jobscheduler.NewRegistry()
//	registry.Register("reminder", sendReminder)
//
//	js, err := jobscheduler.Connect(ctx, cfg.Redis, registry)
//	if err != nil {
//	    return err
//	}
//	defer js.Disconnect(context.Background())
//
//	js.ScheduleIn(ctx, "reminder", uuid.NewString(), time.Minute, payload)
func Connect(ctx context.Context, cfg config.Redis, registry *Registry, opts ...Option) (*JobScheduler, error) {
	cmdOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	subOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	// The subscription must watch the database the commands write to.
	opts = append([]Option{WithDB(cmdOpts.DB)}, opts...)
	o := newOptions(opts)
	logger := o.logger.With("component", "jobscheduler")

	if registry == nil {
		registry = NewRegistry()
	}

	client := redis.NewClient(cmdOpts)
	subClient := redis.NewClient(subOpts)
	closeAll := func() {
		_ = client.Close()
		_ = subClient.Close()
	}

	if err := client.Ping(ctx).Err(); err != nil {
		closeAll()
		return nil, fmt.Errorf("ping %s: %w", cmdOpts.Addr, err)
	}

	if o.configureNotifications {
		if err := EnableExpiryNotifications(ctx, client); err != nil {
			logger.Warn("could not enable expired-key notifications; jobs will not fire unless the server already publishes them",
				"error", err)
		}
	}

	js := &JobScheduler{
		Scheduler: New(client, registry, opts...),
		listener:  NewListener(client, subClient, registry, opts...),
		client:    client,
		subClient: subClient,
	}
	if err := js.listener.Listen(ctx); err != nil {
		closeAll()
		return nil, err
	}

	logger.Info("connected",
		"addr", cmdOpts.Addr,
		"db", cmdOpts.DB,
		"namespace", o.keys.Namespace)
	return js, nil
}

// Listener returns the dispatch listener.
func (js *JobScheduler) Listener() *Listener {
	return js.listener
}

// Disconnect stops the listener and closes both connections. A dispatch
// in progress is not waited for beyond ctx.
func (js *JobScheduler) Disconnect(ctx context.Context) error {
	var errs []error
	if err := js.listener.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close listener: %w", err))
	}
	if err := js.subClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		errs = append(errs, fmt.Errorf("close subscription client: %w", err))
	}
	if err := js.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}
	return errors.Join(errs...)
}

// EnableExpiryNotifications adds the flags needed for keyevent expired
// notifications to the server's notify-keyspace-events setting, keeping
// any flags already set.
func EnableExpiryNotifications(ctx context.Context, client redis.Cmdable) error {
	current, err := client.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		return fmt.Errorf("config get: %w", err)
	}
	flags, changed := notificationFlags(current["notify-keyspace-events"])
	if !changed {
		return nil
	}
	if err := client.ConfigSet(ctx, "notify-keyspace-events", flags).Err(); err != nil {
		return fmt.Errorf("config set notify-keyspace-events %s: %w", flags, err)
	}
	return nil
}

// notificationFlags returns current with "E" (keyevent channel) and "x"
// (expired events) added. "A" already includes "x".
func notificationFlags(current string) (string, bool) {
	flags := current
	if !strings.Contains(flags, "E") {
		flags += "E"
	}
	if !strings.ContainsAny(flags, "xA") {
		flags += "x"
	}
	return flags, flags != current
}
