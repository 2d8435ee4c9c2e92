package main

import (
	"context"
	"fmt"
	"time"

	"github.com/caevv/gitpulse/internal/tasks"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question about recent activity",
	Long: `Answer an ad-hoc question from the generated daily summaries.

The question is submitted to the async task queue and the command polls
the returned handle until the task finishes.

Example:
  gitpulse query --config ./gitpulse.yaml "what shipped in acme/api last week?"`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringP("config", "c", "gitpulse.yaml", "Path to configuration file")
	queryCmd.Flags().Int("months", 1, "How many months of summaries to consult")
	queryCmd.MarkFlagRequired("config")
}

func runQuery(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	months, _ := cmd.Flags().GetInt("months")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := setupSignalHandler()

	queue := tasks.New(func(ctx context.Context, question string) (string, error) {
		return a.summarizer.Query(ctx, question, months)
	}, cfg.LLM.QueryBuffer, logger)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go queue.Run(workerCtx)

	id, err := queue.Submit(args[0])
	if err != nil {
		return err
	}
	logger.Info("query accepted", "task_id", id)

	for {
		task, ok := queue.Get(id)
		if !ok {
			return fmt.Errorf("task %s disappeared", id)
		}
		switch task.Status {
		case tasks.StatusCompleted:
			fmt.Fprintln(cmd.OutOrStdout(), task.Result)
			return nil
		case tasks.StatusFailed:
			return fmt.Errorf("query failed: %s", task.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
