package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/akontos/driftwatch/internal/clients/ibkr"
	"github.com/akontos/driftwatch/internal/config"
	"github.com/akontos/driftwatch/internal/history"
	"github.com/akontos/driftwatch/internal/monitor"
	"github.com/akontos/driftwatch/internal/notify"
	"github.com/akontos/driftwatch/internal/scheduler"
	"github.com/akontos/driftwatch/internal/server"
)

// Daily history refresh, 22:00 local, after US close.
const historyRefreshSchedule = "0 0 22 * * *"

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the drift monitor against the live portfolio",
	Long: `Solve risk-parity targets from historical closes, then watch the live
portfolio and alert when any position drifts past the threshold.

Requires an authenticated Client Portal gateway session.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ibkr.NewClient(cfg.GatewayURL, log.Logger)

	accountID, err := resolveAccount(ctx, client, cfg)
	if err != nil {
		return err
	}

	holdings, err := loadHoldings(ctx, client, accountID)
	if err != nil {
		return err
	}
	if len(holdings) == 0 {
		return fmt.Errorf("account %s has no open positions to monitor", accountID)
	}

	store, err := history.Open(filepath.Join(cfg.DataDir, "history.db"), log.Logger)
	if err != nil {
		return err
	}
	defer store.Close()
	source := history.NewCachedSource(store, client, cfg.HistoryLookback, log.Logger)

	// Prefer the streaming feed; fall back to snapshot polling when the
	// gateway refuses the websocket (older gateway builds, paper accounts).
	var feed monitor.PriceFeed
	var stopFeed func()
	quoteFeed := ibkr.NewQuoteFeed(cfg.FeedURL(), log.Logger)
	if err := quoteFeed.Start(); err != nil {
		log.Warn().Err(err).Msg("Websocket feed unavailable, falling back to snapshot polling")
		_ = quoteFeed.Stop()
		feed = ibkr.NewPollingFeed(client, log.Logger)
		stopFeed = func() {}
	} else {
		feed = quoteFeed
		stopFeed = func() {
			if err := quoteFeed.Stop(); err != nil {
				log.Warn().Err(err).Msg("Feed shutdown failed")
			}
		}
	}
	defer stopFeed()

	alerts := notify.NewClient(cfg.NtfyTopic, cfg.NtfyEnabled, log.Logger)

	mon := monitor.New(monitor.Options{
		Holdings:     holdings,
		History:      source,
		Feed:         feed,
		Alerts:       alerts,
		Snapshots:    store,
		ThresholdPct: cfg.DriftThresholdPct,
		Interval:     cfg.CheckInterval,
		Logger:       log.Logger,
	})
	if err := mon.Init(ctx); err != nil {
		return fmt.Errorf("monitor initialization failed: %w", err)
	}

	sched := scheduler.New(log.Logger)
	if err := sched.AddJob(historyRefreshSchedule, scheduler.NewRefreshHistoryJob(source)); err != nil {
		return fmt.Errorf("failed to schedule history refresh: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(cfg.Port, mon, server.NewStoreSnapshots(store), log.Logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Status API failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Server shutdown failed")
		}
	}()

	if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// resolveAccount checks gateway auth and picks the account to monitor:
// the configured one, or the gateway's first account when none is set.
func resolveAccount(ctx context.Context, client *ibkr.Client, cfg *config.Config) (string, error) {
	status, err := client.AuthStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("gateway unreachable at %s: %w", cfg.GatewayURL, err)
	}
	if !status.Authenticated {
		return "", fmt.Errorf("gateway session not authenticated, log in at %s", cfg.GatewayURL)
	}

	if cfg.AccountID != "" {
		return cfg.AccountID, nil
	}
	accounts, err := client.Accounts(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("gateway reports no accounts")
	}
	log.Info().Str("account", accounts[0].AccountID).Msg("Using first gateway account")
	return accounts[0].AccountID, nil
}

// loadHoldings fetches open positions and converts them to monitor holdings.
// Zero-quantity leftovers from closed positions are dropped.
func loadHoldings(ctx context.Context, client *ibkr.Client, accountID string) ([]monitor.Holding, error) {
	positions, err := client.Positions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	var holdings []monitor.Holding
	for _, p := range positions {
		if p.Position == 0 {
			continue
		}
		holdings = append(holdings, monitor.Holding{
			Conid:    p.Conid,
			Symbol:   p.ContractDesc,
			Quantity: p.Position,
		})
	}
	return holdings, nil
}
