package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/akontos/driftwatch/internal/notify"
	"github.com/akontos/driftwatch/internal/riskparity"
)

// PriceFeed serves live prices for subscribed contracts.
type PriceFeed interface {
	Subscribe(conid int64) error
	Unsubscribe(conid int64) error
	BestPrice(conid int64) (float64, bool)
}

// HistorySource serves daily closing price series.
type HistorySource interface {
	DailyCloses(ctx context.Context, conid int64, symbol string) ([]riskparity.PricePoint, error)
}

// AlertSender delivers push notifications.
type AlertSender interface {
	Send(ctx context.Context, n notify.Notification) error
}

// SnapshotStore persists drift-check results.
type SnapshotStore interface {
	SaveSnapshot(id string, checkedAt time.Time, totalValue float64, breaches int, records any) error
}

// Monitor periodically values the portfolio against risk-parity targets and
// alerts on drift. Targets are solved once at Init and stay fixed for the
// lifetime of the monitor.
type Monitor struct {
	holdings     []Holding
	history      HistorySource
	feed         PriceFeed
	alerts       AlertSender
	snapshots    SnapshotStore
	thresholdPct float64
	interval     time.Duration
	log          zerolog.Logger

	mu        sync.RWMutex
	targets   map[string]float64
	lastCheck *CheckResult

	subscribed []int64
}

// Options configures a Monitor.
type Options struct {
	Holdings     []Holding
	History      HistorySource
	Feed         PriceFeed
	Alerts       AlertSender
	Snapshots    SnapshotStore
	ThresholdPct float64
	Interval     time.Duration
	Logger       zerolog.Logger
}

// New creates a drift monitor. Call Init before Run.
func New(opts Options) *Monitor {
	return &Monitor{
		holdings:     opts.Holdings,
		history:      opts.History,
		feed:         opts.Feed,
		alerts:       opts.Alerts,
		snapshots:    opts.Snapshots,
		thresholdPct: opts.ThresholdPct,
		interval:     opts.Interval,
		log:          opts.Logger.With().Str("component", "monitor").Logger(),
	}
}

// Init computes the risk-parity target weights from historical closes and
// subscribes the price feed to every holding. It must complete successfully
// before Run is called.
func (m *Monitor) Init(ctx context.Context) error {
	if len(m.holdings) == 0 {
		return fmt.Errorf("no holdings to monitor")
	}

	series := make(map[string][]riskparity.PricePoint, len(m.holdings))
	for _, h := range m.holdings {
		points, err := m.history.DailyCloses(ctx, h.Conid, h.Symbol)
		if err != nil {
			return fmt.Errorf("failed to load history for %s: %w", h.Symbol, err)
		}
		series[h.Symbol] = points
	}

	targets, err := solveTargets(series)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.targets = targets
	m.mu.Unlock()

	symbols := make([]string, 0, len(m.holdings))
	for _, h := range m.holdings {
		symbols = append(symbols, h.Symbol)
		if err := m.feed.Subscribe(h.Conid); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", h.Symbol, err)
		}
		m.subscribed = append(m.subscribed, h.Conid)
	}

	m.log.Info().
		Int("holdings", len(m.holdings)).
		Float64("threshold_pct", m.thresholdPct).
		Dur("interval", m.interval).
		Msg("Monitor initialized")

	if err := m.alerts.Send(ctx, notify.Notification{
		Title:   "Drift monitor started",
		Message: fmt.Sprintf("Targets: %s", formatTargetsSummary(symbols, targets)),
		Tags:    []string{"white_check_mark"},
	}); err != nil {
		m.log.Warn().Err(err).Msg("Startup notification failed")
	}
	return nil
}

// solveTargets estimates the covariance of the holdings' returns and solves
// for risk-parity weights. A single holding trivially gets weight 1.
func solveTargets(series map[string][]riskparity.PricePoint) (map[string]float64, error) {
	if len(series) == 1 {
		for sym := range series {
			return map[string]float64{sym: 1.0}, nil
		}
	}

	cov, err := riskparity.ComputeCovariance(series)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate covariance: %w", err)
	}
	weights, err := riskparity.Solve(cov)
	if err != nil {
		return nil, fmt.Errorf("failed to solve risk-parity weights: %w", err)
	}
	return weights, nil
}

// Run executes the check loop until the context is cancelled. One check runs
// immediately, then one per interval. Market data subscriptions are released
// on every exit path.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.unsubscribeAll()

	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// CheckOnce runs a single drift check outside the loop. Used by the status
// API's manual trigger.
func (m *Monitor) CheckOnce(ctx context.Context) CheckResult {
	return m.check(ctx)
}

func (m *Monitor) check(ctx context.Context) CheckResult {
	// Polling feeds need an explicit refresh; the websocket feed streams
	// continuously and does not implement this.
	if r, ok := m.feed.(interface{ Refresh(context.Context) error }); ok {
		if err := r.Refresh(ctx); err != nil {
			m.log.Warn().Err(err).Msg("Price refresh failed")
		}
	}

	prices := make(map[int64]float64, len(m.holdings))
	for _, h := range m.holdings {
		if price, ok := m.feed.BestPrice(h.Conid); ok {
			prices[h.Conid] = price
		}
	}

	m.mu.RLock()
	targets := m.targets
	m.mu.RUnlock()

	result, err := evaluate(m.holdings, prices, targets, m.thresholdPct, time.Now().UTC())
	if err != nil {
		// Missing prices happen outside market hours; skip the cycle
		// rather than alerting on garbage.
		result = CheckResult{
			CheckedAt: time.Now().UTC(),
			Skipped:   true,
			Reason:    err.Error(),
		}
		m.log.Warn().Err(err).Msg("Drift check skipped")
		m.setLastCheck(result)
		return result
	}

	if result.Skipped {
		m.log.Warn().Str("reason", result.Reason).Msg("Drift check skipped")
		m.setLastCheck(result)
		return result
	}

	breaches := result.Breaches()
	if len(breaches) == 0 {
		m.log.Info().Float64("total_value", result.TotalValue).Msg("All positions within tolerance")
	} else {
		m.log.Info().
			Float64("total_value", result.TotalValue).
			Int("breaches", len(breaches)).
			Msg("Drift detected")
	}

	if err := m.snapshots.SaveSnapshot(uuid.NewString(), result.CheckedAt, result.TotalValue, len(breaches), result.Records); err != nil {
		m.log.Warn().Err(err).Msg("Failed to persist drift snapshot")
	}

	if len(breaches) > 0 {
		if err := m.alerts.Send(ctx, notify.Notification{
			Title:    fmt.Sprintf("Rebalance needed: %d position(s) drifted", len(breaches)),
			Message:  formatDriftReport(result),
			Priority: notify.PriorityHigh,
			Tags:     []string{"warning", "scales"},
		}); err != nil {
			m.log.Warn().Err(err).Msg("Drift alert failed")
		}
	}

	m.setLastCheck(result)
	return result
}

func (m *Monitor) setLastCheck(result CheckResult) {
	m.mu.Lock()
	m.lastCheck = &result
	m.mu.Unlock()
}

// LastCheck returns the most recent check result, or nil before the first
// cycle completes.
func (m *Monitor) LastCheck() *CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCheck
}

// Targets returns a copy of the solved target weights.
func (m *Monitor) Targets() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.targets))
	for sym, w := range m.targets {
		out[sym] = w
	}
	return out
}

func (m *Monitor) unsubscribeAll() {
	for _, conid := range m.subscribed {
		if err := m.feed.Unsubscribe(conid); err != nil {
			m.log.Warn().Err(err).Int64("conid", conid).Msg("Unsubscribe failed")
		}
	}
	m.subscribed = nil
}
