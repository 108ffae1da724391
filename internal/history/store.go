// Package history caches daily price bars in SQLite so multi-year downloads
// are not repeated on every run, and persists drift-check snapshots for the
// status API.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/akontos/driftwatch/internal/clients/ibkr"
	"github.com/akontos/driftwatch/internal/riskparity"
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_bars (
	conid  INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	date   TEXT NOT NULL,
	open   REAL,
	high   REAL,
	low    REAL,
	close  REAL NOT NULL,
	volume REAL,
	PRIMARY KEY (conid, date)
);

CREATE TABLE IF NOT EXISTS drift_snapshots (
	id          TEXT PRIMARY KEY,
	checked_at  INTEGER NOT NULL,
	total_value REAL NOT NULL,
	breaches    INTEGER NOT NULL,
	records     BLOB
);

CREATE INDEX IF NOT EXISTS idx_drift_snapshots_checked_at ON drift_snapshots(checked_at);
`

// Store is the on-disk price and snapshot cache.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Snapshot is one persisted drift-check result. Records holds the
// msgpack-encoded drift records of the cycle.
type Snapshot struct {
	ID         string    `json:"id"`
	CheckedAt  time.Time `json:"checked_at"`
	TotalValue float64   `json:"total_value"`
	Breaches   int       `json:"breaches"`
	Records    []byte    `json:"-"`
}

// Open opens (creating if necessary) the history database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "history_store").Logger(),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBars upserts daily bars for a contract.
func (s *Store) SaveBars(conid int64, symbol string, bars []ibkr.HistoryBar) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_bars (conid, symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conid, date) DO UPDATE SET
			open = excluded.open, high = excluded.high,
			low = excluded.low, close = excluded.close, volume = excluded.volume
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.Exec(conid, symbol, bar.Date(), bar.O, bar.H, bar.L, bar.C, bar.V); err != nil {
			return fmt.Errorf("failed to upsert bar for conid %d: %w", conid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bars: %w", err)
	}

	s.log.Debug().Int64("conid", conid).Str("symbol", symbol).Int("bars", len(bars)).Msg("Saved daily bars")
	return nil
}

// ClosePrices returns the cached daily closes for a contract in date order.
func (s *Store) ClosePrices(conid int64) ([]riskparity.PricePoint, error) {
	rows, err := s.db.Query(`SELECT date, close FROM daily_bars WHERE conid = ? ORDER BY date ASC`, conid)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily bars: %w", err)
	}
	defer rows.Close()

	var points []riskparity.PricePoint
	for rows.Next() {
		var p riskparity.PricePoint
		if err := rows.Scan(&p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan daily bar: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily bars: %w", err)
	}
	return points, nil
}

// LatestDate returns the most recent cached bar date for a contract, or ""
// when nothing is cached.
func (s *Store) LatestDate(conid int64) (string, error) {
	var date sql.NullString
	err := s.db.QueryRow(`SELECT MAX(date) FROM daily_bars WHERE conid = ?`, conid).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest bar date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// SaveSnapshot persists one drift-check result. records is msgpack-encoded so
// the snapshot schema does not chase the record struct.
func (s *Store) SaveSnapshot(id string, checkedAt time.Time, totalValue float64, breaches int, records any) error {
	payload, err := msgpack.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode drift records: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO drift_snapshots (id, checked_at, total_value, breaches, records)
		VALUES (?, ?, ?, ?, ?)
	`, id, checkedAt.Unix(), totalValue, breaches, payload)
	if err != nil {
		return fmt.Errorf("failed to save drift snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent drift snapshot, or nil when none
// exist yet.
func (s *Store) LatestSnapshot() (*Snapshot, error) {
	var (
		snap      Snapshot
		checkedAt int64
	)
	err := s.db.QueryRow(`
		SELECT id, checked_at, total_value, breaches, records
		FROM drift_snapshots ORDER BY checked_at DESC LIMIT 1
	`).Scan(&snap.ID, &checkedAt, &snap.TotalValue, &snap.Breaches, &snap.Records)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	snap.CheckedAt = time.Unix(checkedAt, 0).UTC()
	return &snap, nil
}

// DecodeRecords unpacks a snapshot payload into out (a pointer to a slice of
// the caller's record type).
func DecodeRecords(snap *Snapshot, out any) error {
	if snap == nil || len(snap.Records) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(snap.Records, out); err != nil {
		return fmt.Errorf("failed to decode drift records: %w", err)
	}
	return nil
}
