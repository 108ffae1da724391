package cli

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/akontos/driftwatch/internal/clients/ibkr"
	"github.com/akontos/driftwatch/internal/history"
	"github.com/akontos/driftwatch/internal/riskparity"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Solve risk-parity weights for the current portfolio",
	Long: `Fetch historical daily closes for every open position, estimate the
covariance of their returns, and solve for the weights that equalize each
position's risk contribution.

Example:
  driftwatch weights --csv weights.csv`,
	RunE: runWeights,
}

var weightsCSVPath string

func init() {
	rootCmd.AddCommand(weightsCmd)
	weightsCmd.Flags().StringVar(&weightsCSVPath, "csv", "", "write the solved weights to a CSV file")
}

func runWeights(cmd *cobra.Command, args []string) error {
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
	holdings, err := loadHoldings(ctx, client, accountID)
	if err != nil {
		return err
	}
	if len(holdings) < 2 {
		return fmt.Errorf("need at least two positions to solve weights, account %s has %d", accountID, len(holdings))
	}

	store, err := history.Open(filepath.Join(cfg.DataDir, "history.db"), log.Logger)
	if err != nil {
		return err
	}
	defer store.Close()
	source := history.NewCachedSource(store, client, cfg.HistoryLookback, log.Logger)

	series := make(map[string][]riskparity.PricePoint, len(holdings))
	for _, h := range holdings {
		points, err := source.DailyCloses(ctx, h.Conid, h.Symbol)
		if err != nil {
			return fmt.Errorf("failed to load history for %s: %w", h.Symbol, err)
		}
		series[h.Symbol] = points
	}

	cov, err := riskparity.ComputeCovariance(series)
	if err != nil {
		return err
	}
	weights, err := riskparity.Solve(cov)
	if err != nil {
		return err
	}
	contributions, err := riskparity.RiskContributions(weights, cov)
	if err != nil {
		return err
	}

	symbols := make([]string, 0, len(weights))
	for sym := range weights {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	fmt.Printf("Risk-parity weights (%d instruments):\n\n", len(symbols))
	fmt.Printf("  %-12s %10s %10s\n", "SYMBOL", "WEIGHT", "RISK")
	for _, sym := range symbols {
		fmt.Printf("  %-12s %9.2f%% %9.2f%%\n", sym, weights[sym]*100, contributions[sym]*100)
	}

	if weightsCSVPath != "" {
		if err := writeWeightsCSV(weightsCSVPath, symbols, weights, contributions); err != nil {
			return err
		}
		fmt.Printf("\nWeights saved to %s\n", weightsCSVPath)
	}
	return nil
}

func writeWeightsCSV(path string, symbols []string, weights, contributions map[string]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"symbol", "weight", "risk_contribution"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, sym := range symbols {
		record := []string{
			sym,
			fmt.Sprintf("%.6f", weights[sym]),
			fmt.Sprintf("%.6f", contributions[sym]),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
