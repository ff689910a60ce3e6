package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rappen/RappSack/internal/scheduler"
	"github.com/rappen/RappSack/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

// Scheduled job ids.
const (
	jobSweepTokens      = "sweep-tokens"
	jobPurgeInvocations = "purge-invocations"
	jobVacuum           = "vacuum"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the maintenance scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				opts.cfg.ListenAddr = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.cfg, opts.logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := startScheduler(ctx, a)
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("stop scheduler", "error", err)
		}
	}()

	if err := registerGauges(a); err != nil {
		return err
	}

	srv := webhook.NewServer(webhook.Deps{
		Registry: a.registry,
		Runner:   a.runner,
		Decoder:  a.decoder,
		Journal:  a.store,
		Hub:      a.hub,
		Metrics:  a.metrics,
		Logger:   logger,
		MaxBody:  cfg.MaxBody,
	})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Open invocation streams end with the signal context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("webhook listening",
		slog.String("addr", cfg.ListenAddr),
		slog.Int("plugins", a.registry.Count()),
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// registerGauges exposes the invocation stream and, with credentials, the
// token cache on /metrics.
func registerGauges(a *app) error {
	hub := a.hub
	gauges := []struct {
		name, help string
		sample     func() float64
	}{
		{"stream_subscribers", "Open invocation stream subscriptions", func() float64 { return float64(hub.Subscribers()) }},
		{"stream_dropped_events", "Invocation events dropped for slow subscribers", func() float64 { return float64(hub.Dropped()) }},
	}
	if a.tokens != nil {
		tokens := a.tokens
		gauges = append(gauges, struct {
			name, help string
			sample     func() float64
		}{"token_cache_entries", "Cached access tokens", func() float64 { return float64(tokens.Len()) }})
	}
	for _, g := range gauges {
		if err := a.metrics.RegisterGauge(g.name, g.help, g.sample); err != nil {
			return fmt.Errorf("register gauge %s: %w", g.name, err)
		}
	}
	return nil
}

// startScheduler registers the maintenance tasks, makes sure their jobs
// exist, catches up on missed runs and starts the loop. An empty cron
// expression disables the job.
func startScheduler(ctx context.Context, a *app) (*scheduler.Scheduler, error) {
	cfg := a.cfg
	sched := scheduler.NewScheduler(a.store, a.logger)
	sched.RegisterTask(scheduler.TaskPurgeInvocations, scheduler.PurgeInvocations(a.store, cfg.RetentionDays, time.Now, a.logger))
	sched.RegisterTask(scheduler.TaskVacuum, scheduler.Vacuum(a.store))

	type job struct {
		id, task, cron string
	}
	jobs := []job{{jobVacuum, scheduler.TaskVacuum, cfg.VacuumCron}}
	if cfg.RetentionDays > 0 {
		jobs = append(jobs, job{jobPurgeInvocations, scheduler.TaskPurgeInvocations, cfg.RetentionCron})
	}
	if a.tokens != nil {
		sched.RegisterTask(scheduler.TaskSweepTokens, scheduler.SweepTokens(a.tokens, a.logger))
		jobs = append(jobs, job{jobSweepTokens, scheduler.TaskSweepTokens, cfg.SweepCron})
	}

	for _, j := range jobs {
		if j.cron == "" {
			continue
		}
		if err := sched.Ensure(ctx, j.id, j.task, j.cron, nil); err != nil {
			return nil, err
		}
	}
	if err := sched.RecoverMissed(ctx); err != nil {
		a.logger.Warn("recover missed jobs", "error", err)
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	return sched, nil
}
