package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imovelmapa/imovsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "imovsync",
	Short: "Auction listing sync pipeline",
	Long:  "Imports the per-state auction listing feeds, reconciles them against the database, geocodes addresses, mirrors photos, and serves the query API.",
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
