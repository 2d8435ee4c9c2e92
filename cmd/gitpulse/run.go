package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [date]",
	Short: "Run the pipeline for one date",
	Long: `Fetch, normalize and summarize one day of activity.

The date defaults to yesterday (the last complete day). The month window
containing the date is fetched once and cached; subsequent runs inside
the same month reuse it.

Example:
  gitpulse run --config ./gitpulse.yaml 2026-08-20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringP("config", "c", "gitpulse.yaml", "Path to configuration file")
	runCmd.Flags().StringP("source", "s", "", "Data source name (default from config)")
	runCmd.Flags().Bool("batch", false, "Summarize via the async LLM batch API")
	runCmd.MarkFlagRequired("config")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	src, _ := cmd.Flags().GetString("source")
	batch, _ := cmd.Flags().GetBool("batch")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	date := yesterday()
	if len(args) == 1 {
		if date, err = parseDate(args[0]); err != nil {
			return err
		}
	}

	a, err := newApp(cfg, batch)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := setupSignalHandler()

	path, err := a.runDay(ctx, src, date)
	if err != nil {
		return fmt.Errorf("pipeline run for %s: %w", date.Format(time.DateOnly), err)
	}

	if batch {
		// The summary lands when the batch completes; poll it here so a
		// one-shot run still finishes the job before exiting.
		logger.Info("waiting for batch completion", "date", date.Format(time.DateOnly))
		if err := waitForBatches(ctx, a); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "summary written: %s\n", path)
	return nil
}

// waitForBatches polls until the batch job store has no active jobs left.
func waitForBatches(ctx context.Context, a *app) error {
	for len(a.batches.ActiveJobs()) > 0 {
		if err := a.manager.Poll(ctx); err != nil {
			logger.Warn("batch poll failed", "error", err)
		}
		if len(a.batches.ActiveJobs()) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(a.cfg.LLM.BatchPoll) * time.Second):
		}
	}
	return nil
}
