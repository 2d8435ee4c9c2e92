package main

import (
	"fmt"
	"os"

	"github.com/caevv/gitpulse/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file populated with defaults to edit from.

Refuses to overwrite an existing file unless --force is given.

Example:
  gitpulse init --config ./gitpulse.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringP("config", "c", "gitpulse.yaml", "Path to write the configuration to")
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.Default()
	if err := config.Save(cfg, configPath); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}

	logger.Info("configuration written", "path", configPath)
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
	fmt.Fprintln(cmd.OutOrStdout(), "set pool.base_url, pool.token and llm.api_key before running")
	return nil
}
