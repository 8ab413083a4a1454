// Command jobscheduler-demo schedules one job 15 seconds out and prints it
// when Redis fires it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	jobscheduler "github.com/rbaliyan/jobscheduler"
	"github.com/rbaliyan/jobscheduler/config"
)

const handlerName = "exampleHandler"

func main() {
	var cfgPath string
	var delay time.Duration
	flag.StringVar(&cfgPath, "config", "", "path to config yaml (optional)")
	flag.DurationVar(&delay, "delay", 15*time.Second, "delay before the job fires")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := jobscheduler.NewRegistry()
	fired := make(chan struct{}, 1)
	err = registry.Register(handlerName, jobscheduler.Chain(jobscheduler.Recoverer())(
		func(_ context.Context, job *jobscheduler.Job) error {
			logger.Info("executing job", "id", job.ID, "payload", string(job.Raw))
			fired <- struct{}{}
			return nil
		}))
	if err != nil {
		logger.Error("register handler", "error", err)
		os.Exit(1)
	}

	js, err := jobscheduler.Connect(ctx, cfg.Redis, registry,
		jobscheduler.WithLogger(logger),
		jobscheduler.WithNamespace(cfg.Namespace),
		jobscheduler.WithPayloadCodec(cfg.Codec()),
		jobscheduler.WithNotificationConfig(cfg.ConfigureNotifications))
	if err != nil {
		logger.Error("connect", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := js.Disconnect(shutdownCtx); err != nil {
			logger.Warn("disconnect", "error", err)
		}
	}()

	job, err := js.ScheduleIn(ctx, handlerName, uuid.NewString(), delay, map[string]any{
		"foo": "bar",
		"a":   1,
		"c":   5,
	})
	if err != nil {
		logger.Error("schedule job", "error", err)
		return
	}
	logger.Info("job scheduled", "id", job.ID, "fire_at", job.FireAt.Format(time.RFC3339))

	select {
	case <-fired:
	case <-ctx.Done():
		logger.Info("interrupted before the job fired")
	}
}
