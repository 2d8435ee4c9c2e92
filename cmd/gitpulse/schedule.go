package main

import (
	"context"
	"fmt"
	"time"

	"github.com/caevv/gitpulse/internal/config"
	"github.com/caevv/gitpulse/internal/notify"
	"github.com/caevv/gitpulse/internal/pipeline"
	"github.com/caevv/gitpulse/internal/scheduler"
	"github.com/caevv/gitpulse/internal/state"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the digest scheduler daemon",
	Long: `Start the recurring digest scheduler.

On start the daemon catches up on any days missed while it was down,
resumes polling of in-flight LLM batch jobs, then fires the configured
daily/weekly/monthly/yearly triggers. Outcomes are recorded in the
history store and forwarded to the configured notification sinks.

Example:
  gitpulse schedule --config ./gitpulse.yaml`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringP("config", "c", "gitpulse.yaml", "Path to configuration file")
	scheduleCmd.Flags().Bool("no-catchup", false, "Skip the missed-days backfill on start")
	scheduleCmd.MarkFlagRequired("config")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	noCatchup, _ := cmd.Flags().GetBool("no-catchup")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger.Info("starting gitpulse scheduler",
		"config", configPath,
		"timezone", cfg.Scheduler.Timezone,
		"history_driver", cfg.History.Driver,
		"batch", cfg.Scheduler.Daily.Batch)

	a, err := newApp(cfg, cfg.Scheduler.Daily.Batch)
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := state.NewHistory(cfg.History.Driver, cfg.History.Path, cfg.History.MaxEntries)
	if err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}
	defer func() {
		if err := history.Close(); err != nil {
			logger.Error("failed to close history", "error", err)
		}
	}()

	notifier := buildNotifier(cfg)

	ctx := setupSignalHandler()

	sched, err := scheduler.New(ctx, cfg.Scheduler, cfg.SchedulerEnabled(), history, notifier, logger)
	if err != nil {
		return err
	}

	if err := sched.Start(scheduler.Jobs{
		Daily:   a.dailyJob(),
		Weekly:  a.weeklyJob(),
		Monthly: a.monthlyJob(),
		Yearly:  a.yearlyJob(),
	}); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Catch-up: run the days missed while the daemon was down.
	if !noCatchup && cfg.SchedulerEnabled() {
		g.Go(func() error {
			a.catchUp(gCtx)
			return nil
		})
	}

	// Resume polling of batch jobs recorded by a previous process.
	if a.manager != nil {
		g.Go(func() error {
			if err := a.manager.Run(gCtx); err != nil && err != context.Canceled {
				return fmt.Errorf("batch manager: %w", err)
			}
			return nil
		})
	}

	// Ad-hoc query worker.
	g.Go(func() error {
		if err := a.queue.Run(gCtx); err != nil && err != context.Canceled {
			return fmt.Errorf("task queue: %w", err)
		}
		return nil
	})

	// Shutdown handler.
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down gracefully...")
		sched.Shutdown()
		return nil
	})

	logger.Info("gitpulse scheduler started", "state", sched.Status().State)

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("error during execution", "error", err)
		return err
	}

	logger.Info("gitpulse stopped")
	return nil
}

// buildNotifier assembles the sink fan-out from configuration.
func buildNotifier(cfg *config.Config) *notify.Notifier {
	sinks := []notify.Sink{&notify.LogSink{Logger: logger}}
	for _, url := range cfg.Notify.Webhooks {
		sinks = append(sinks, notify.NewWebhookSink(url))
	}
	for _, path := range cfg.Notify.Scripts {
		sinks = append(sinks, &notify.ScriptSink{Path: path})
	}
	return notify.New(logger, sinks...)
}

// catchUp backfills every day between the checkpoint and yesterday.
func (a *app) catchUp(ctx context.Context) {
	since, until, ok := a.checkpoints.CatchUpRange(checkpointKey, yesterday())
	if !ok {
		a.logger.Info("pipeline caught up, no backfill needed")
		return
	}

	a.logger.Info("catching up on missed days",
		"since", since.Format(time.DateOnly), "until", until.Format(time.DateOnly))
	if _, err := a.runRange(ctx, "", since, until); err != nil {
		a.logger.Error("catch-up backfill failed", "error", err)
	}
}

// dailyJob runs the pipeline for the trigger's target day, catching up
// on any gap since the checkpoint first.
func (a *app) dailyJob() scheduler.JobFunc {
	return func(ctx context.Context, target time.Time) error {
		since, until, ok := a.checkpoints.CatchUpRange(checkpointKey, target)
		if !ok {
			a.logger.Info("daily digest already covered", "target", target.Format(time.DateOnly))
			return nil
		}
		results, err := a.runRange(ctx, "", since, until)
		if err != nil {
			return err
		}
		if failed := len(results) - succeededCount(results); failed > 0 {
			return fmt.Errorf("%d of %d day(s) failed", failed, len(results))
		}
		return nil
	}
}

// weeklyJob rolls the last seven daily summaries into one digest.
func (a *app) weeklyJob() scheduler.JobFunc {
	return func(ctx context.Context, target time.Time) error {
		since := target.AddDate(0, 0, -6)
		label := "weekly-" + since.Format(time.DateOnly)
		_, err := a.summarizer.Rollup(ctx, since, target, label)
		return err
	}
}

// monthlyJob digests the previous calendar month.
func (a *app) monthlyJob() scheduler.JobFunc {
	return func(ctx context.Context, target time.Time) error {
		first := time.Date(target.Year(), target.Month(), 1, 0, 0, 0, 0, time.UTC)
		since := first.AddDate(0, -1, 0)
		until := first.AddDate(0, 0, -1)
		label := "monthly-" + since.Format("2006-01")
		_, err := a.summarizer.Rollup(ctx, since, until, label)
		return err
	}
}

// yearlyJob digests the previous calendar year.
func (a *app) yearlyJob() scheduler.JobFunc {
	return func(ctx context.Context, target time.Time) error {
		first := time.Date(target.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		since := first.AddDate(-1, 0, 0)
		until := first.AddDate(0, 0, -1)
		label := "yearly-" + since.Format("2006")
		_, err := a.summarizer.Rollup(ctx, since, until, label)
		return err
	}
}

func succeededCount(results []pipeline.Result) int {
	n := 0
	for _, r := range results {
		if r.Status == pipeline.RunSuccess {
			n++
		}
	}
	return n
}
