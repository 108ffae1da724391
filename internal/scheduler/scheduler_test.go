package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	calls int
	err   error
}

func (r *countingRefresher) RefreshAll(context.Context) error {
	r.calls++
	return r.err
}

func TestRefreshHistoryJob(t *testing.T) {
	refresher := &countingRefresher{}
	job := NewRefreshHistoryJob(refresher)

	assert.Equal(t, "refresh_history", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, refresher.calls)
}

func TestRefreshHistoryJob_PropagatesError(t *testing.T) {
	refresher := &countingRefresher{err: errors.New("gateway unreachable")}
	job := NewRefreshHistoryJob(refresher)
	require.Error(t, job.Run())
}

func TestAddJob_InvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", NewRefreshHistoryJob(&countingRefresher{}))
	require.Error(t, err)
}
