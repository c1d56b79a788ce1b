package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/touchlinehq/touchline/internal/app"
	"github.com/touchlinehq/touchline/internal/observability"
	"github.com/touchlinehq/touchline/internal/platform/logging"
)

func scheduleCmd() *cobra.Command {
	var runOnce string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the recurring pipeline jobs on their cron schedule",
		Long: "Registers the daily sync, nightly promote, nightly link inference, " +
			"nightly view refresh, and weekly reconciliation jobs with a cron " +
			"runner and blocks until interrupted. With --run-once, runs a single " +
			"job immediately and exits; the run record is identical to a " +
			"scheduled one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The daemon never takes a run deadline: each job fire bounds
			// itself, and the process lives until a signal arrives.
			return runWithApp(nil, nil, func(ctx context.Context, a *app.App) error {
				if runOnce != "" {
					_, err := a.Scheduler.RunJob(ctx, runOnce)

					return err
				}

				return runDaemon(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&runOnce, "run-once", "", "run one named job immediately and exit")

	return cmd
}

func runDaemon(ctx context.Context, a *app.App) error {
	logger := a.Logger

	stopProfiler, err := observability.InitPyroscope(a.Config, logger)
	if err != nil {
		return fmt.Errorf("init profiler: %w", err)
	}
	defer func() {
		_ = stopProfiler()
	}()

	pprofSrv, err := observability.StartPprofServer(a.Config, logger)
	if err != nil {
		return fmt.Errorf("start pprof: %w", err)
	}
	defer func() {
		_ = observability.StopPprofServer(pprofSrv, logger, 5*time.Second)
	}()

	cronLog := cronLogger{logger: logger}
	runner := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLog),
		cron.Recover(cronLog),
	))

	for _, job := range a.Scheduler.Jobs() {
		name := job.Name
		if _, err := runner.AddFunc(job.Spec, func() {
			// RunJob bounds itself with the configured job timeout; the
			// daemon context only cuts runs short on shutdown.
			if _, err := a.Scheduler.RunJob(ctx, name); err != nil {
				logger.Error("scheduled job failed", "job", name, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("register job %s (%q): %w", name, job.Spec, err)
		}
		logger.Info("job registered", "job", name, "spec", job.Spec)
	}

	runner.Start()
	logger.Info("schedule daemon started")

	<-ctx.Done()
	logger.Info("schedule daemon stopping")

	// Stop schedules no new fires; wait for in-flight jobs to finish.
	<-runner.Stop().Done()
	logger.Info("schedule daemon stopped")

	return nil
}

// cronLogger adapts the pipeline logger to the cron runner's interface.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"error", err}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
