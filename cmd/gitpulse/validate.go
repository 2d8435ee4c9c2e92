package main

import (
	"fmt"
	"os"

	"github.com/caevv/gitpulse/internal/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a gitpulse configuration file",
	Long: `Load and validate the configuration file without starting anything.

It checks for:
  - Valid YAML syntax
  - Required fields (data_dir, GHES base URL, search query)
  - Valid trigger times, weekdays and days of month
  - Valid time zones
  - Valid history driver and LLM provider

Example:
  gitpulse validate --config ./gitpulse.yaml`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().StringP("config", "c", "gitpulse.yaml", "Path to configuration file")
	validateCmd.MarkFlagRequired("config")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	logger.Info("validating configuration", "path", configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		logger.Error("configuration file not found", "path", configPath)
		return fmt.Errorf("configuration file not found: %s", configPath)
	}

	// Load validates automatically.
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("configuration validation failed", "error", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	logger.Info("configuration is valid",
		"path", configPath,
		"data_dir", cfg.Pipeline.DataDir,
		"timezone", cfg.Scheduler.Timezone,
		"history_driver", cfg.History.Driver,
		"llm_provider", cfg.LLM.Provider,
		"scheduler_enabled", cfg.SchedulerEnabled())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n✓ Configuration is valid: %s\n", configPath)
	fmt.Fprintf(out, "  Data dir: %s\n", cfg.Pipeline.DataDir)
	fmt.Fprintf(out, "  GHES: %s (pool size %d)\n", cfg.Pool.BaseURL, cfg.Pool.Size)
	fmt.Fprintf(out, "  History: %s (%s)\n", cfg.History.Driver, cfg.History.Path)
	fmt.Fprintf(out, "  LLM: %s / %s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Fprintf(out, "  Timezone: %s\n", cfg.Scheduler.Timezone)
	if !cfg.SchedulerEnabled() {
		fmt.Fprintln(out, "  Scheduler: disabled")
	}
	return nil
}
