package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/caevv/gitpulse/internal/state"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show scheduled-job execution history",
	Long: `List recorded job firings, newest last.

Example:
  gitpulse history --config ./gitpulse.yaml --job daily-digest --limit 20`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringP("config", "c", "gitpulse.yaml", "Path to configuration file")
	historyCmd.Flags().StringP("job", "j", "", "Filter by job name")
	historyCmd.Flags().IntP("limit", "l", 20, "Maximum entries to show (0 = all)")
	historyCmd.MarkFlagRequired("config")
}

func runHistory(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	job, _ := cmd.Flags().GetString("job")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	history, err := state.NewHistory(cfg.History.Driver, cfg.History.Path, cfg.History.MaxEntries)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer history.Close()

	events, err := history.List(job, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no history recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRIGGERED\tJOB\tTARGET\tSTATUS\tDURATION\tERROR")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.TriggeredAt.Format(time.RFC3339), e.Job, e.Target,
			e.Status, e.Duration().Round(time.Millisecond), e.Error)
	}
	return w.Flush()
}
