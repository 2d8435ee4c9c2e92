package main

import (
	"fmt"
	"time"

	"github.com/caevv/gitpulse/internal/pipeline"
	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run the pipeline over a date range",
	Long: `Backfill digests for every date in [--since, --until].

Month windows already in the chunk cache are not re-fetched, so an
interrupted backfill resumes from where it stopped. A failed date is
reported and skipped; the rest of the range still runs.

Example:
  gitpulse backfill --config ./gitpulse.yaml --since 2026-06-01 --until 2026-08-27`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringP("config", "c", "gitpulse.yaml", "Path to configuration file")
	backfillCmd.Flags().StringP("source", "s", "", "Data source name (default from config)")
	backfillCmd.Flags().String("since", "", "First date of the range (YYYY-MM-DD)")
	backfillCmd.Flags().String("until", "", "Last date of the range (YYYY-MM-DD, default yesterday)")
	backfillCmd.Flags().Bool("force", false, "Invalidate cached windows and re-fetch")
	backfillCmd.MarkFlagRequired("config")
	backfillCmd.MarkFlagRequired("since")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	src, _ := cmd.Flags().GetString("source")
	sinceArg, _ := cmd.Flags().GetString("since")
	untilArg, _ := cmd.Flags().GetString("until")
	force, _ := cmd.Flags().GetBool("force")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	since, err := parseDate(sinceArg)
	if err != nil {
		return err
	}
	until := yesterday()
	if untilArg != "" {
		if until, err = parseDate(untilArg); err != nil {
			return err
		}
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := setupSignalHandler()

	if force {
		logger.Info("forced backfill, invalidating cached windows",
			"since", since.Format(time.DateOnly), "until", until.Format(time.DateOnly))
		if err := a.fetcher.FetchRange(ctx, since, until, true); err != nil {
			return fmt.Errorf("pre-fetch range: %w", err)
		}
	}

	results, err := a.runRange(ctx, src, since, until)
	if err != nil {
		return err
	}

	succeeded := 0
	for _, r := range results {
		if r.Status == pipeline.RunSuccess {
			succeeded++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "FAILED %s: %s\n", r.Date.Format(time.DateOnly), r.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backfill complete: %d/%d dates succeeded\n", succeeded, len(results))

	if failed := pipeline.FailedDates(results); len(failed) > 0 {
		return fmt.Errorf("%d date(s) failed", len(failed))
	}
	return nil
}
