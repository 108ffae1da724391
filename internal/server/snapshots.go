package server

import (
	"time"

	"github.com/akontos/driftwatch/internal/history"
	"github.com/akontos/driftwatch/internal/monitor"
)

// SnapshotView is the API shape of a persisted drift check.
type SnapshotView struct {
	ID         string                `json:"id"`
	CheckedAt  time.Time             `json:"checked_at"`
	TotalValue float64               `json:"total_value"`
	Breaches   int                   `json:"breaches"`
	Records    []monitor.DriftRecord `json:"records"`
}

// StoreSnapshots adapts the history store to the SnapshotSource interface.
type StoreSnapshots struct {
	store *history.Store
}

// NewStoreSnapshots wraps a history store for the API.
func NewStoreSnapshots(store *history.Store) *StoreSnapshots {
	return &StoreSnapshots{store: store}
}

// LatestSnapshotRecords returns the newest drift snapshot with its records
// decoded, or nil when no check has been persisted yet.
func (s *StoreSnapshots) LatestSnapshotRecords() (any, error) {
	snap, err := s.store.LatestSnapshot()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}

	var records []monitor.DriftRecord
	if err := history.DecodeRecords(snap, &records); err != nil {
		return nil, err
	}
	return &SnapshotView{
		ID:         snap.ID,
		CheckedAt:  snap.CheckedAt,
		TotalValue: snap.TotalValue,
		Breaches:   snap.Breaches,
		Records:    records,
	}, nil
}
