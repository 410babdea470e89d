package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/steward/internal/database"
)

// Job mirrors scheduler.Job without importing the scheduler package.
type Job interface {
	Run() error
	Name() string
}

// JobStatus is the wire form of a background job's last run outcome.
type JobStatus struct {
	Name           string    `json:"name"`
	Runs           uint64    `json:"runs"`
	Failures       uint64    `json:"failures"`
	LastRunAt      time.Time `json:"last_run_at"`
	LastDurationMs int64     `json:"last_duration_ms"`
	LastError      string    `json:"last_error,omitempty"`
}

// SystemHandlers handles system-wide monitoring and operations endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	vaultDB     *database.DB
	configDB    *database.DB
	cacheDB     *database.DB

	// Jobs (set after job registration in main.go)
	jobs        map[string]Job
	jobStatuses func() []JobStatus
}

// NewSystemHandlers creates a new system handlers instance.
func NewSystemHandlers(log zerolog.Logger, dataDir string, vaultDB, configDB, cacheDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		vaultDB:     vaultDB,
		configDB:    configDB,
		cacheDB:     cacheDB,
		jobs:        make(map[string]Job),
	}
}

// SetJobs registers job instances for manual triggering via the API.
func (h *SystemHandlers) SetJobs(jobs ...Job) {
	for _, job := range jobs {
		if job != nil {
			h.jobs[job.Name()] = job
		}
	}
}

// SetJobStatusFunc wires the scheduler's per-job run report into
// HandleJobStatuses.
func (h *SystemHandlers) SetJobStatusFunc(fn func() []JobStatus) {
	h.jobStatuses = fn
}

// HandleJobStatuses handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobStatuses(w http.ResponseWriter, r *http.Request) {
	statuses := []JobStatus{}
	if h.jobStatuses != nil {
		statuses = h.jobStatuses()
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": statuses})
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// HandleSystemHealth handles GET /api/system/health
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := h.systemUsage()

	databases := map[string]*database.DB{
		"vault":  h.vaultDB,
		"config": h.configDB,
		"cache":  h.cacheDB,
	}
	dbStatus := make(map[string]string, len(databases))
	healthy := true
	for name, db := range databases {
		if db == nil {
			continue
		}
		if err := db.Conn().Ping(); err != nil {
			dbStatus[name] = "unreachable"
			healthy = false
			continue
		}
		dbStatus[name] = "ok"
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"cpu_percent":    cpuAvg,
		"ram_percent":    ramPercent,
		"databases":      dbStatus,
	})
}

// systemUsage returns CPU and RAM usage percentages.
// CPU is sampled over 100ms to keep the endpoint responsive.
func (h *SystemHandlers) systemUsage() (float64, float64) {
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

// HandleTriggerJob handles POST /api/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{
			"status": "error",
			"error":  "unknown job: " + name,
		})
		return
	}

	h.log.Info().Str("job", name).Msg("Job triggered via API")
	if err := job.Run(); err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "completed",
		"job":    name,
	})
}
