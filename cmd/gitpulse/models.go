package main

import (
	"fmt"

	"github.com/caevv/gitpulse/internal/llm"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available from the LLM provider",
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().StringP("config", "c", "gitpulse.yaml", "Path to configuration file")
	modelsCmd.MarkFlagRequired("config")
}

func runModels(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	provider, err := llm.NewProvider(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		return err
	}
	lister, ok := llm.AsModelLister(provider)
	if !ok {
		return fmt.Errorf("provider %s does not support model listing", cfg.LLM.Provider)
	}

	models, err := lister.ListModels(cmd.Context())
	if err != nil {
		return err
	}

	pricing := llm.DefaultPricing()
	for _, m := range models {
		marker := ""
		if m == cfg.LLM.Model {
			marker = " (configured)"
		}
		if p, ok := pricing.Estimate(m, 1_000_000, 1_000_000); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\t$%.2f/2M tokens\n", m, marker, p)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", m, marker)
	}
	return nil
}
