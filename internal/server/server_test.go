package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akontos/driftwatch/internal/monitor"
)

type stubStatus struct {
	last    *monitor.CheckResult
	targets map[string]float64
	checks  int
}

func (s *stubStatus) LastCheck() *monitor.CheckResult { return s.last }
func (s *stubStatus) Targets() map[string]float64     { return s.targets }

func (s *stubStatus) CheckOnce(context.Context) monitor.CheckResult {
	s.checks++
	if s.last != nil {
		return *s.last
	}
	return monitor.CheckResult{Skipped: true, Reason: "no prices available"}
}

type stubSnapshots struct {
	view any
	err  error
}

func (s *stubSnapshots) LatestSnapshotRecords() (any, error) { return s.view, s.err }

func newTestServer(status StatusSource, snaps SnapshotSource) *Server {
	return New(0, status, snaps, zerolog.Nop())
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&stubStatus{}, &stubSnapshots{})
	rec := get(t, srv, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatus_BeforeFirstCheck(t *testing.T) {
	srv := newTestServer(&stubStatus{}, &stubSnapshots{})
	rec := get(t, srv, "/api/status")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body["last_check"])
}

func TestStatus_WithCheck(t *testing.T) {
	last := &monitor.CheckResult{
		CheckedAt:  time.Now().UTC(),
		TotalValue: 2000,
		Records: []monitor.DriftRecord{
			{Symbol: "AAA", DriftPct: -20, Breached: true},
			{Symbol: "BBB", DriftPct: 2},
		},
	}
	srv := newTestServer(&stubStatus{last: last}, &stubSnapshots{})
	rec := get(t, srv, "/api/status")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["breaches"])
}

func TestWeights(t *testing.T) {
	srv := newTestServer(&stubStatus{targets: map[string]float64{"AAA": 0.6, "BBB": 0.4}}, &stubSnapshots{})
	rec := get(t, srv, "/api/weights")

	var body struct {
		Targets map[string]float64 `json:"targets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 0.6, body.Targets["AAA"], 1e-9)
}

func TestLatestDrift_NotFound(t *testing.T) {
	srv := newTestServer(&stubStatus{}, &stubSnapshots{})
	rec := get(t, srv, "/api/drift/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestDrift_Found(t *testing.T) {
	view := &SnapshotView{ID: "snap-1", TotalValue: 2000, Breaches: 2}
	srv := newTestServer(&stubStatus{}, &stubSnapshots{view: view})
	rec := get(t, srv, "/api/drift/latest")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body SnapshotView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "snap-1", body.ID)
	assert.Equal(t, 2, body.Breaches)
}

func TestLatestDrift_StoreError(t *testing.T) {
	srv := newTestServer(&stubStatus{}, &stubSnapshots{err: errors.New("db locked")})
	rec := get(t, srv, "/api/drift/latest")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCheckNow(t *testing.T) {
	status := &stubStatus{last: &monitor.CheckResult{TotalValue: 2000}}
	srv := newTestServer(status, &stubSnapshots{})

	req := httptest.NewRequest(http.MethodPost, "/api/check", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, status.checks)

	var body monitor.CheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2000.0, body.TotalValue)
}

func TestCheckNow_GetRejected(t *testing.T) {
	srv := newTestServer(&stubStatus{}, &stubSnapshots{})
	rec := get(t, srv, "/api/check")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSystem(t *testing.T) {
	srv := newTestServer(&stubStatus{}, &stubSnapshots{})
	rec := get(t, srv, "/api/system")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "cpu_percent")
	assert.Contains(t, body, "memory_percent")
}
