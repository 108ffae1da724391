package scheduler

import (
	"context"
	"time"
)

// HistoryRefresher renews cached daily bars.
type HistoryRefresher interface {
	RefreshAll(ctx context.Context) error
}

// RefreshHistoryJob refetches daily bars for every tracked contract so the
// cache never goes stale between restarts.
type RefreshHistoryJob struct {
	source  HistoryRefresher
	timeout time.Duration
}

// NewRefreshHistoryJob creates the nightly history refresh job.
func NewRefreshHistoryJob(source HistoryRefresher) *RefreshHistoryJob {
	return &RefreshHistoryJob{source: source, timeout: 10 * time.Minute}
}

// Name implements Job.
func (j *RefreshHistoryJob) Name() string {
	return "refresh_history"
}

// Run implements Job.
func (j *RefreshHistoryJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.source.RefreshAll(ctx)
}
