package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/lotledger/internal/database"
)

// SystemHandlers serves the health and monitoring endpoints.
type SystemHandlers struct {
	log        zerolog.Logger
	dataDir    string
	ledgerDB   *database.DB
	universeDB *database.DB
	startedAt  time.Time
}

// NewSystemHandlers creates new system handlers
func NewSystemHandlers(log zerolog.Logger, dataDir string, ledgerDB, universeDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:        log.With().Str("handler", "system").Logger(),
		dataDir:    dataDir,
		ledgerDB:   ledgerDB,
		universeDB: universeDB,
		startedAt:  time.Now(),
	}
}

// HandleHealth handles GET /health and GET /api/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK

	databases := map[string]string{}
	for name, db := range map[string]*database.DB{
		"ledger":   h.ledgerDB,
		"universe": h.universeDB,
	} {
		if err := db.QuickCheck(r.Context()); err != nil {
			h.log.Error().Err(err).Str("database", name).Msg("Database health check failed")
			databases[name] = "unreachable"
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		} else {
			databases[name] = "ok"
		}
	}

	h.writeJSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"databases": databases,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "running",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"cpu_percent":    cpuPercent,
		"memory_percent": memPercent,
		"data_dir":       h.dataDir,
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	totalSizeMB := 0.0

	for name, db := range map[string]*database.DB{
		"ledger":   h.ledgerDB,
		"universe": h.universeDB,
	} {
		dbStats, err := db.GetStats()
		if err != nil {
			h.log.Error().Err(err).Str("database", name).Msg("Failed to get database stats")
			continue
		}
		sizeMB := float64(dbStats.SizeBytes) / 1024 / 1024
		totalSizeMB += sizeMB
		stats[name] = map[string]interface{}{
			"path":          db.Path(),
			"size_mb":       sizeMB,
			"wal_size_mb":   float64(dbStats.WALSizeBytes) / 1024 / 1024,
			"page_count":    dbStats.PageCount,
			"page_size":     dbStats.PageSize,
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"databases":     stats,
		"total_size_mb": totalSizeMB,
		"last_checked":  time.Now().Format(time.RFC3339),
	})
}

// getSystemStats calculates CPU and RAM usage percentages.
// Uses a short 100ms sampling interval to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
