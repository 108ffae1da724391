package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/akontos/driftwatch/internal/clients/ibkr"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List open positions in the monitored account",
	RunE:  runPositions,
}

func init() {
	rootCmd.AddCommand(positionsCmd)
}

func runPositions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	client := ibkr.NewClient(cfg.GatewayURL, log.Logger)
	accountID, err := resolveAccount(ctx, client, cfg)
	if err != nil {
		return err
	}

	positions, err := client.Positions(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load positions: %w", err)
	}
	if len(positions) == 0 {
		fmt.Printf("Account %s has no open positions.\n", accountID)
		return nil
	}

	total := 0.0
	fmt.Printf("Positions for %s:\n\n", accountID)
	fmt.Printf("  %-20s %10s %12s %14s %10s\n", "CONTRACT", "CONID", "QUANTITY", "VALUE", "CCY")
	for _, p := range positions {
		fmt.Printf("  %-20s %10d %12.4f %14.2f %10s\n",
			p.ContractDesc, p.Conid, p.Position, p.MktValue, p.Currency)
		total += p.MktValue
	}
	fmt.Printf("\nTotal value: %.2f\n", total)
	return nil
}
