package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/caevv/gitpulse/internal/state"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline checkpoints and in-flight batch jobs",
	Long: `Print the per-stage checkpoints and any LLM batch jobs still
in flight.

Example:
  gitpulse status --config ./gitpulse.yaml`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringP("config", "c", "gitpulse.yaml", "Path to configuration file")
	statusCmd.MarkFlagRequired("config")
}

func runStatus(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	dataDir := cfg.Pipeline.DataDir

	checkpoints, err := state.NewCheckpointStore(filepath.Join(dataDir, "checkpoints.json"), logger)
	if err != nil {
		return err
	}
	batches, err := state.NewBatchJobStore(filepath.Join(dataDir, "batches.json"), logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Checkpoints:")
	if cp, ok := checkpoints.Get(checkpointKey); ok {
		fmt.Fprintf(out, "  %s: %s\n", checkpointKey, cp)
		if since, until, pending := checkpoints.CatchUpRange(checkpointKey, yesterday()); pending {
			fmt.Fprintf(out, "  behind: %s..%s\n",
				since.Format(time.DateOnly), until.Format(time.DateOnly))
		} else {
			fmt.Fprintln(out, "  caught up")
		}
	} else {
		fmt.Fprintln(out, "  (none recorded)")
	}

	active := batches.ActiveJobs()
	fmt.Fprintf(out, "\nActive batch jobs: %d\n", len(active))
	if len(active) > 0 {
		sort.Slice(active, func(i, j int) bool {
			return active[i].SubmittedAt.Before(active[j].SubmittedAt)
		})
		w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  BATCH ID\tTASK\tSTATUS\tSUBMITTED\tREQUESTS")
		for _, job := range active {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d\n",
				job.BatchID, job.Task, job.Status,
				job.SubmittedAt.Format(time.RFC3339), len(job.CustomIDs))
		}
		w.Flush()
	}
	return nil
}
