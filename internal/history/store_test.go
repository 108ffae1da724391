package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akontos/driftwatch/internal/clients/ibkr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dayMillis(day int) int64 {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC).UnixMilli()
}

func TestSaveAndLoadBars(t *testing.T) {
	store := openTestStore(t)

	bars := []ibkr.HistoryBar{
		{T: dayMillis(2), O: 100, H: 102, L: 99, C: 101, V: 1000},
		{T: dayMillis(1), O: 99, H: 101, L: 98, C: 100, V: 1200},
	}
	require.NoError(t, store.SaveBars(265598, "AAPL", bars))

	points, err := store.ClosePrices(265598)
	require.NoError(t, err)
	require.Len(t, points, 2)

	// Date-ordered regardless of insert order.
	assert.Equal(t, "2024-01-01", points[0].Date)
	assert.Equal(t, 100.0, points[0].Close)
	assert.Equal(t, "2024-01-02", points[1].Date)

	latest, err := store.LatestDate(265598)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", latest)
}

func TestSaveBars_UpsertOverwrites(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveBars(1, "X", []ibkr.HistoryBar{{T: dayMillis(1), C: 10}}))
	require.NoError(t, store.SaveBars(1, "X", []ibkr.HistoryBar{{T: dayMillis(1), C: 11}}))

	points, err := store.ClosePrices(1)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 11.0, points[0].Close)
}

func TestLatestDate_Empty(t *testing.T) {
	store := openTestStore(t)

	latest, err := store.LatestDate(42)
	require.NoError(t, err)
	assert.Equal(t, "", latest)
}

func TestSnapshotRoundtrip(t *testing.T) {
	store := openTestStore(t)

	type record struct {
		Symbol   string
		DriftPct float64
	}
	records := []record{{Symbol: "AAPL", DriftPct: -20.0}, {Symbol: "GLD", DriftPct: 20.0}}

	checkedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveSnapshot("snap-1", checkedAt, 2000.0, len(records), records))

	snap, err := store.LatestSnapshot()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "snap-1", snap.ID)
	assert.Equal(t, checkedAt, snap.CheckedAt)
	assert.Equal(t, 2000.0, snap.TotalValue)
	assert.Equal(t, 2, snap.Breaches)

	var decoded []record
	require.NoError(t, DecodeRecords(snap, &decoded))
	assert.Equal(t, records, decoded)
}

func TestLatestSnapshot_Empty(t *testing.T) {
	store := openTestStore(t)

	snap, err := store.LatestSnapshot()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

type stubFetcher struct {
	bars  []ibkr.HistoryBar
	err   error
	calls int
}

func (s *stubFetcher) HistoricalBarsWithFallback(_ context.Context, _ int64, _ []ibkr.HistoryQuery) ([]ibkr.HistoryBar, error) {
	s.calls++
	return s.bars, s.err
}

func TestCachedSource_FetchesOnMiss(t *testing.T) {
	store := openTestStore(t)
	fetcher := &stubFetcher{bars: []ibkr.HistoryBar{
		{T: time.Now().UTC().Add(-24 * time.Hour).UnixMilli(), C: 100},
		{T: time.Now().UTC().UnixMilli(), C: 101},
	}}
	source := NewCachedSource(store, fetcher, "2y", zerolog.Nop())

	points, err := source.DailyCloses(context.Background(), 7, "NVDA")
	require.NoError(t, err)
	assert.Len(t, points, 2)
	assert.Equal(t, 1, fetcher.calls)

	// Fresh cache: second call must not refetch.
	_, err = source.DailyCloses(context.Background(), 7, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
}

func TestCachedSource_ServesStaleCacheWhenGatewayDown(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SaveBars(7, "NVDA", []ibkr.HistoryBar{
		{T: dayMillis(1), C: 100},
		{T: dayMillis(2), C: 101},
	}))

	fetcher := &stubFetcher{err: errors.New("gateway unreachable")}
	source := NewCachedSource(store, fetcher, "2y", zerolog.Nop())

	points, err := source.DailyCloses(context.Background(), 7, "NVDA")
	require.NoError(t, err)
	assert.Len(t, points, 2)
	assert.Equal(t, 1, fetcher.calls)
}

func TestCachedSource_ErrorWhenNoDataAnywhere(t *testing.T) {
	store := openTestStore(t)
	fetcher := &stubFetcher{err: errors.New("gateway unreachable")}
	source := NewCachedSource(store, fetcher, "2y", zerolog.Nop())

	_, err := source.DailyCloses(context.Background(), 7, "NVDA")
	require.Error(t, err)
}

func TestCachedSource_RefreshAll(t *testing.T) {
	store := openTestStore(t)
	fetcher := &stubFetcher{bars: []ibkr.HistoryBar{{T: dayMillis(1), C: 100}}}
	source := NewCachedSource(store, fetcher, "2y", zerolog.Nop())

	_, err := source.DailyCloses(context.Background(), 1, "AAA")
	require.NoError(t, err)
	_, err = source.DailyCloses(context.Background(), 2, "BBB")
	require.NoError(t, err)
	callsAfterInit := fetcher.calls

	require.NoError(t, source.RefreshAll(context.Background()))
	assert.Equal(t, callsAfterInit+2, fetcher.calls)
}
