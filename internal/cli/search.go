package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/akontos/driftwatch/internal/clients/ibkr"
)

var searchCmd = &cobra.Command{
	Use:   "search <symbol>",
	Short: "Search contract definitions by symbol",
	Long: `Look up contract ids for a ticker symbol through the gateway.

Example:
  driftwatch search VWCE`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	client := ibkr.NewClient(cfg.GatewayURL, log.Logger)
	contracts, err := client.SearchContracts(ctx, args[0])
	if err != nil {
		return fmt.Errorf("contract search failed: %w", err)
	}
	if len(contracts) == 0 {
		fmt.Printf("No contracts found for %q.\n", args[0])
		return nil
	}

	fmt.Printf("  %-10s %-10s %-8s %s\n", "CONID", "SYMBOL", "TYPE", "NAME")
	for _, c := range contracts {
		fmt.Printf("  %-10s %-10s %-8s %s\n", c.Conid, c.Symbol, c.SecType, c.CompanyName)
	}
	return nil
}
