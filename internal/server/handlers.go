package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	last := s.status.LastCheck()
	resp := map[string]any{
		"started_at": s.startedAt,
		"last_check": last,
	}
	if last != nil {
		resp["breaches"] = len(last.Breaches())
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"targets": s.status.Targets(),
	})
}

func (s *Server) handleLatestDrift(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.LatestSnapshotRecords()
	if err != nil {
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if snap == nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "no drift checks recorded yet"})
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// handleCheckNow runs one drift check outside the schedule and returns its
// result.
func (s *Server) handleCheckNow(w http.ResponseWriter, r *http.Request) {
	result := s.status.CheckOnce(r.Context())
	s.respondJSON(w, http.StatusOK, result)
}

// handleSystem reports host CPU and memory usage. The 100ms sampling window
// keeps the endpoint responsive for dashboard polling.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"cpu_percent":    cpuAvg,
		"memory_percent": memStat.UsedPercent,
		"memory_used":    memStat.Used,
		"memory_total":   memStat.Total,
	})
}
