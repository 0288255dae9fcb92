package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatusResponse reports process and host health for the dashboard's
// footer widget.
type SystemStatusResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Refreshing    bool    `json:"refreshing"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	DataDir       string  `json:"data_dir"`
}

// handleSystemStatus returns process uptime plus host CPU/memory/disk usage.
// GET /api/system/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Refreshing:    s.orch.Running(),
		DataDir:       s.cfg.DataDir,
	}

	// 100ms sample keeps the endpoint fast; the dashboard polls frequently.
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		resp.CPUPercent = cpuPercent[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		resp.MemoryPercent = memStat.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
	}

	if diskStat, err := disk.Usage(s.cfg.DataDir); err == nil {
		resp.DiskPercent = diskStat.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to get disk usage")
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// DatabaseStatsResponse reports the SQLite file's size and page accounting.
type DatabaseStatsResponse struct {
	SizeBytes     int64 `json:"size_bytes"`
	WALSizeBytes  int64 `json:"wal_size_bytes"`
	PageCount     int64 `json:"page_count"`
	PageSize      int64 `json:"page_size"`
	FreelistCount int64 `json:"freelist_count"`
}

// handleDatabaseStats returns store file statistics.
// GET /api/system/database/stats
func (s *Server) handleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to get database stats")
		http.Error(w, "failed to get database stats", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, DatabaseStatsResponse{
		SizeBytes:     stats.SizeBytes,
		WALSizeBytes:  stats.WALSizeBytes,
		PageCount:     stats.PageCount,
		PageSize:      stats.PageSize,
		FreelistCount: stats.FreelistCount,
	})
}
