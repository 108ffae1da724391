package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/akontos/driftwatch/internal/clients/ibkr"
	"github.com/akontos/driftwatch/internal/riskparity"
)

// Bars are considered fresh if the newest cached date is at most this old.
// Daily history only moves once per trading day, but a week of slack covers
// market holidays without ever serving a stale multi-month cache.
const staleAfterDays = 7

// BarFetcher fetches historical bars from the gateway.
type BarFetcher interface {
	HistoricalBarsWithFallback(ctx context.Context, conid int64, queries []ibkr.HistoryQuery) ([]ibkr.HistoryBar, error)
}

// CachedSource serves daily closes cache-first: fresh cached bars are returned
// directly, anything else is fetched through the gateway fallback chain and
// cached. It remembers every contract it has served so RefreshAll can renew
// the whole working set.
type CachedSource struct {
	store    *Store
	fetcher  BarFetcher
	lookback string
	log      zerolog.Logger

	mu    sync.Mutex
	known map[int64]string // conid -> symbol
}

// NewCachedSource creates a cache-first daily close source.
func NewCachedSource(store *Store, fetcher BarFetcher, lookback string, log zerolog.Logger) *CachedSource {
	return &CachedSource{
		store:    store,
		fetcher:  fetcher,
		lookback: lookback,
		log:      log.With().Str("component", "history_source").Logger(),
		known:    make(map[int64]string),
	}
}

// DailyCloses returns the daily closing series for a contract, fetching and
// caching it when the cache is empty or stale.
func (cs *CachedSource) DailyCloses(ctx context.Context, conid int64, symbol string) ([]riskparity.PricePoint, error) {
	cs.mu.Lock()
	cs.known[conid] = symbol
	cs.mu.Unlock()

	latest, err := cs.store.LatestDate(conid)
	if err != nil {
		return nil, err
	}
	if latest != "" && !isStale(latest, time.Now()) {
		cs.log.Debug().Int64("conid", conid).Str("symbol", symbol).Msg("Serving daily closes from cache")
		return cs.store.ClosePrices(conid)
	}

	if err := cs.refresh(ctx, conid, symbol); err != nil {
		// A stale cache is still usable when the gateway is unreachable;
		// only an empty one is fatal.
		cached, cacheErr := cs.store.ClosePrices(conid)
		if cacheErr == nil && len(cached) > 0 {
			cs.log.Warn().Err(err).
				Int64("conid", conid).
				Str("symbol", symbol).
				Msg("History fetch failed, serving stale cache")
			return cached, nil
		}
		return nil, err
	}

	return cs.store.ClosePrices(conid)
}

// RefreshAll refetches bars for every contract this source has served.
func (cs *CachedSource) RefreshAll(ctx context.Context) error {
	cs.mu.Lock()
	contracts := make(map[int64]string, len(cs.known))
	for conid, symbol := range cs.known {
		contracts[conid] = symbol
	}
	cs.mu.Unlock()

	var firstErr error
	for conid, symbol := range contracts {
		if err := cs.refresh(ctx, conid, symbol); err != nil {
			cs.log.Warn().Err(err).Int64("conid", conid).Str("symbol", symbol).Msg("History refresh failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (cs *CachedSource) refresh(ctx context.Context, conid int64, symbol string) error {
	bars, err := cs.fetcher.HistoricalBarsWithFallback(ctx, conid, ibkr.DefaultHistoryQueries(cs.lookback))
	if err != nil {
		return fmt.Errorf("failed to fetch history for %s: %w", symbol, err)
	}
	return cs.store.SaveBars(conid, symbol, bars)
}

func isStale(latestDate string, now time.Time) bool {
	t, err := time.Parse("2006-01-02", latestDate)
	if err != nil {
		return true
	}
	return now.Sub(t) > staleAfterDays*24*time.Hour
}
