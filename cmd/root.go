package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "reconciled",
	Short: "Multi-source network data reconciliation engine",
	Long:  "Ingests entity observations from discovery tools, CMDBs and monitoring systems, detects conflicting reports, arbitrates them by configurable strategy, and tracks per-source data quality.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
