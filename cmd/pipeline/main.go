// Command pipeline is the ingestion and reconciliation CLI.
//
// Usage:
//
//	pipeline scrape --adapter gotsport [--event 12345] [--dry-run]
//	pipeline promote [--batch-size 1000] [--max-iters 50]
//	pipeline infer-links [--dry-run]
//	pipeline rebuild [--create-tables] [--process]
//	pipeline validate-rebuild [--strict]
//	pipeline swap --dry-run | --execute | --rollback
//	pipeline refresh-views
//	pipeline repair-names [--dry-run]
//	pipeline reconcile-ranked [--dry-run]
//	pipeline ingest-rankings
//	pipeline schedule [--run-once <job>]
//
// Every command exits non-zero only on a fatal error; contained failures
// (validation rejects, per-event scrape errors) are counted in the printed
// run summary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/touchlinehq/touchline/internal/app"
	"github.com/touchlinehq/touchline/internal/config"
	"github.com/touchlinehq/touchline/internal/observability"
	"github.com/touchlinehq/touchline/internal/platform/logging"
	"github.com/touchlinehq/touchline/internal/usecase"
)

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Youth-soccer match ingestion and reconciliation pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		scrapeCmd(),
		promoteCmd(),
		inferLinksCmd(),
		rebuildCmd(),
		validateRebuildCmd(),
		swapCmd(),
		refreshViewsCmd(),
		repairNamesCmd(),
		reconcileRankedCmd(),
		ingestRankingsCmd(),
		scheduleCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// mutateConfig lets command flags override what the environment loaded
// before the services are wired.
type mutateConfig func(cfg *config.Config)

// runWithApp wires the full App, bounds the run with the given deadline, and
// tears everything down afterwards. A zero deadline leaves the run unbounded.
func runWithApp(deadline func(config.Config) time.Duration, mutate mutateConfig, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := logging.NewConsole(cfg.LogLevel)
	logging.SetDefault(logger)
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitUptrace(cfg, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
	}()

	if deadline != nil {
		if d := deadline(cfg); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	return fn(ctx, a)
}

func syncDeadline(cfg config.Config) time.Duration        { return cfg.SyncRunDeadline }
func maintenanceDeadline(cfg config.Config) time.Duration { return cfg.MaintenanceRunDeadline }

func printResult(v any) error {
	out, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))

	return nil
}

func scrapeCmd() *cobra.Command {
	var (
		adapterID string
		eventIDs  []string
		dryRun    bool
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run the scraper engine for one source adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(syncDeadline, nil, func(ctx context.Context, a *app.App) error {
				stats, err := a.Scrape.Run(ctx, adapterID, usecase.RunOptions{
					EventFilter: eventIDs,
					DryRun:      dryRun,
					Force:       force,
				})
				if printErr := printResult(stats); printErr != nil {
					return printErr
				}

				return err
			})
		},
	}
	cmd.Flags().StringVar(&adapterID, "adapter", "", "source adapter id")
	cmd.Flags().StringArrayVar(&eventIDs, "event", nil, "restrict the run to these source event ids (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stage nothing; report what the run would insert")
	cmd.Flags().BoolVar(&force, "force", false, "rescrape events the checkpoint already marks completed")
	_ = cmd.MarkFlagRequired("adapter")

	return cmd
}

func promoteCmd() *cobra.Command {
	var (
		batchSize     int
		maxIters      int
		skipStandings bool
	)
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote unprocessed staging rows into production",
		RunE: func(cmd *cobra.Command, args []string) error {
			mutate := func(cfg *config.Config) {
				if batchSize > 0 {
					cfg.PromoteBatchSize = batchSize
				}
				if maxIters > 0 {
					cfg.PromoteMaxIters = maxIters
				}
			}

			return runWithApp(maintenanceDeadline, mutate, func(ctx context.Context, a *app.App) error {
				result, err := a.Promotion.Run(ctx)
				if printErr := printResult(result); printErr != nil {
					return printErr
				}
				if err != nil {
					return err
				}
				if skipStandings {
					return nil
				}

				tables, err := a.Standings.Run(ctx)
				if printErr := printResult(tables); printErr != nil {
					return printErr
				}

				return err
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "staging rows per batch (clamped to [500, 2000])")
	cmd.Flags().IntVar(&maxIters, "max-iters", 0, "maximum batches before the run stops")
	cmd.Flags().BoolVar(&skipStandings, "skip-standings", false, "promote staged games only")

	return cmd
}

func inferLinksCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "infer-links",
		Short: "Assign orphan matches to events from team co-occurrence evidence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(maintenanceDeadline, nil, func(ctx context.Context, a *app.App) error {
				result, err := a.Links.Run(ctx, dryRun)
				if printErr := printResult(result); printErr != nil {
					return printErr
				}

				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print intended assignments without writing")

	return cmd
}

func requireRebuild(a *app.App) (*usecase.RebuildService, error) {
	if a.Rebuild == nil {
		return nil, fmt.Errorf("rebuild requires STORAGE_DRIVER=postgres")
	}

	return a.Rebuild, nil
}

func rebuildCmd() *cobra.Command {
	var (
		createTables bool
		process      bool
	)
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild shadow production tables from the full staging history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(maintenanceDeadline, nil, func(ctx context.Context, a *app.App) error {
				rebuild, err := requireRebuild(a)
				if err != nil {
					return err
				}

				result, err := rebuild.Rebuild(ctx, usecase.RebuildOptions{
					CreateTables: createTables,
					Process:      process,
				})
				if printErr := printResult(result); printErr != nil {
					return printErr
				}

				return err
			})
		},
	}
	cmd.Flags().BoolVar(&createTables, "create-tables", false, "create empty shadow tables")
	cmd.Flags().BoolVar(&process, "process", false, "stream staging history into the shadow tables")

	return cmd
}

func validateRebuildCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate-rebuild",
		Short: "Check the shadow rebuild against the swap gates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(maintenanceDeadline, nil, func(ctx context.Context, a *app.App) error {
				rebuild, err := requireRebuild(a)
				if err != nil {
					return err
				}

				validation, err := rebuild.Validate(ctx)
				if err != nil {
					return err
				}
				if printErr := printResult(validation); printErr != nil {
					return printErr
				}

				if !validation.Pass || (strict && !validation.StrictPass) {
					return fmt.Errorf("rebuild validation failed")
				}

				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "also bind the data-quality rate checks")

	return cmd
}

func swapCmd() *cobra.Command {
	var (
		dryRun   bool
		execute  bool
		rollback bool
	)
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Atomically promote the shadow rebuild to live (or roll back)",
		RunE: func(cmd *cobra.Command, args []string) error {
			modes := 0
			for _, set := range []bool{dryRun, execute, rollback} {
				if set {
					modes++
				}
			}
			if modes != 1 {
				return fmt.Errorf("exactly one of --dry-run, --execute, --rollback is required")
			}

			return runWithApp(maintenanceDeadline, nil, func(ctx context.Context, a *app.App) error {
				rebuild, err := requireRebuild(a)
				if err != nil {
					return err
				}

				switch {
				case dryRun:
					for _, step := range rebuild.SwapPlan() {
						fmt.Println(step)
					}

					return nil
				case rollback:
					for _, step := range rebuild.RollbackPlan() {
						fmt.Println(step)
					}

					return rebuild.Rollback(ctx)
				default:
					result, err := rebuild.Swap(ctx)
					if printErr := printResult(result); printErr != nil {
						return printErr
					}

					return err
				}
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the swap plan without touching production")
	cmd.Flags().BoolVar(&execute, "execute", false, "validate and execute the swap in one transaction")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "restore production from the backup tables")

	return cmd
}

func refreshViewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-views",
		Short: "Refresh the serving-layer materialized views",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(maintenanceDeadline, nil, func(ctx context.Context, a *app.App) error {
				result, err := a.Views.RefreshAll(ctx)
				if printErr := printResult(result); printErr != nil {
					return printErr
				}

				return err
			})
		},
	}
}

func repairNamesCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair-names",
		Short: "Fix canonical teams whose names carry a duplicated leading prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(maintenanceDeadline, nil, func(ctx context.Context, a *app.App) error {
				result, err := a.Repair.Run(ctx, dryRun)
				if printErr := printResult(result); printErr != nil {
					return printErr
				}

				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print planned renames and merges without writing")

	return cmd
}

func reconcileRankedCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile-ranked",
		Short: "Merge nationally ranked teams without matches into their playing twins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(maintenanceDeadline, nil, func(ctx context.Context, a *app.App) error {
				result, err := a.Reconcile.Run(ctx, dryRun)
				if printErr := printResult(result); printErr != nil {
					return printErr
				}

				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the merge plan without writing")

	return cmd
}

func ingestRankingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest-rankings",
		Short: "Pull national rankings and apply them to canonical teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(maintenanceDeadline, nil, func(ctx context.Context, a *app.App) error {
				if a.Rankings == nil {
					return fmt.Errorf("ranking ingestion requires RANKHUB_ENABLED=true")
				}

				result, err := a.Rankings.Run(ctx)
				if printErr := printResult(result); printErr != nil {
					return printErr
				}

				return err
			})
		},
	}
}
