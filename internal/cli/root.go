// Package cli wires the driftwatch commands together.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/akontos/driftwatch/internal/config"
	"github.com/akontos/driftwatch/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Risk-parity portfolio drift monitor for the IBKR Client Portal gateway",
	Long: `Driftwatch watches a live IBKR portfolio against risk-parity target weights.

It provides tools for:
  - Solving risk-parity weights from historical daily closes
  - Monitoring live portfolio drift and alerting through ntfy.sh
  - Inspecting gateway auth state, positions and contract definitions
  - Submitting rebalancing orders through the Client Portal gateway`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and installs the global logger. Every
// command starts here.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.SetGlobalLogger(logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true}))
	return cfg, nil
}
