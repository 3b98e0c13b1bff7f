package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aristath/greenfolio/internal/database"
	"github.com/aristath/greenfolio/internal/modules/runs"
	"github.com/aristath/greenfolio/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers handles system monitoring and maintenance endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	runsDB      *database.DB
	runs        *runs.Repository
	jobs        map[string]scheduler.Job
	jobNames    []string

	mu      sync.Mutex
	lastRun map[string]JobInfo
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	runsDB *database.DB,
	runRepo *runs.Repository,
	jobs []scheduler.Job,
) *SystemHandlers {
	h := &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		runsDB:      runsDB,
		runs:        runRepo,
		jobs:        make(map[string]scheduler.Job, len(jobs)),
		lastRun:     make(map[string]JobInfo),
	}
	for _, job := range jobs {
		h.jobs[job.Name()] = job
		h.jobNames = append(h.jobNames, job.Name())
	}
	return h
}

// SystemStatusResponse represents system status
type SystemStatusResponse struct {
	Status        string  `json:"status"` // "healthy" or "degraded"
	Version       string  `json:"version"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	RAMPercent    float64 `json:"ram_percent"`
	RunCount      int     `json:"run_count"`
	DataDirMB     float64 `json:"data_dir_mb"`
	Database      *DBInfo `json:"database,omitempty"`
}

// DBInfo represents information about a single database
type DBInfo struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistPages int64   `json:"freelist_pages"`
}

// JobInfo represents the last manual run of a job
type JobInfo struct {
	Name    string `json:"name"`
	LastRun string `json:"last_run,omitempty"`
	Status  string `json:"status"` // "idle", "completed", "failed"
	Error   string `json:"error,omitempty"`
}

// GetSystemStatusSnapshot returns a snapshot of the current system status.
// The first error encountered is returned alongside the partial snapshot.
func (h *SystemHandlers) GetSystemStatusSnapshot(ctx context.Context) (SystemStatusResponse, error) {
	var firstErr error
	recordErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	cpuPercent, ramPercent := h.getSystemStats()
	response := SystemStatusResponse{
		Status:        "healthy",
		Version:       version,
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		RAMPercent:    ramPercent,
		DataDirMB:     h.getDirSize(h.dataDir),
	}

	if h.runsDB != nil {
		if err := h.runsDB.QuickCheck(ctx); err != nil {
			h.log.Error().Err(err).Msg("Runs database unreachable")
			recordErr(err)
			response.Status = "degraded"
		}
		info, err := h.databaseInfo()
		recordErr(err)
		response.Database = info
	}

	if h.runs != nil {
		count, err := h.runs.Count()
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to count runs")
			recordErr(err)
			response.Status = "degraded"
		}
		response.RunCount = count
	}

	return response, firstErr
}

// HandleSystemStatus returns system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	response, err := h.GetSystemStatusSnapshot(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("System status collected with warnings")
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleDatabaseStats returns statistics for the runs database
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	if h.runsDB == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "runs database not configured"})
		return
	}

	info, err := h.databaseInfo()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get database stats")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *SystemHandlers) databaseInfo() (*DBInfo, error) {
	stats, err := h.runsDB.GetStats()
	if err != nil {
		return nil, fmt.Errorf("failed to get stats for %s: %w", h.runsDB.Name(), err)
	}
	return &DBInfo{
		Name:          h.runsDB.Name(),
		Path:          h.runsDB.Path(),
		SizeMB:        float64(stats.SizeBytes) / 1024 / 1024,
		WALSizeMB:     float64(stats.WALSizeBytes) / 1024 / 1024,
		PageCount:     stats.PageCount,
		FreelistPages: stats.FreelistCount,
	}, nil
}

// HandleListJobs lists the jobs that can be triggered manually
// GET /api/jobs
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	jobs := make([]JobInfo, 0, len(h.jobNames))
	for _, name := range h.jobNames {
		info, ok := h.lastRun[name]
		if !ok {
			info = JobInfo{Name: name, Status: "idle"}
		}
		jobs = append(jobs, info)
	}
	h.mu.Unlock()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_jobs": len(jobs),
		"jobs":       jobs,
	})
}

// HandleTriggerJob runs a registered job immediately and reports the outcome
// POST /api/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("job %q not registered", name)})
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job triggered")

	err := job.Run()
	info := JobInfo{Name: name, LastRun: time.Now().Format(time.RFC3339), Status: "completed"}
	if err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job failed")
		info.Status = "failed"
		info.Error = err.Error()
	}

	h.mu.Lock()
	h.lastRun[name] = info
	h.mu.Unlock()

	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, info)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	if dirPath == "" {
		return 0
	}
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats returns CPU and RAM usage percentages, sampling CPU over 100ms
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
