package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/akontos/driftwatch/internal/clients/ibkr"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Show the gateway authentication status",
	RunE:  runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	client := ibkr.NewClient(cfg.GatewayURL, log.Logger)
	status, err := client.AuthStatus(ctx)
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", cfg.GatewayURL, err)
	}

	fmt.Printf("Gateway:       %s\n", cfg.GatewayURL)
	fmt.Printf("Authenticated: %v\n", status.Authenticated)
	fmt.Printf("Connected:     %v\n", status.Connected)
	fmt.Printf("Competing:     %v\n", status.Competing)
	if status.Message != "" {
		fmt.Printf("Message:       %s\n", status.Message)
	}

	if status.Authenticated {
		accounts, err := client.Accounts(ctx)
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		fmt.Printf("\nAccounts:\n")
		for _, a := range accounts {
			alias := a.AccountAlias
			if alias == "" {
				alias = "-"
			}
			fmt.Printf("  %s (%s, %s)\n", a.AccountID, alias, a.Currency)
		}
	}
	return nil
}
