package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/jmylchreest/encodarr/internal/version"
)

// DatabasePinger checks the registry database.
type DatabasePinger interface {
	Ping(ctx context.Context) error
	Driver() string
}

// ActiveJobCounter reports how many transcodes are running.
type ActiveJobCounter interface {
	ActiveCount() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   version.Info
	startTime time.Time
	db        DatabasePinger
	jobs      ActiveJobCounter
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(info version.Info) *HealthHandler {
	return &HealthHandler{
		version:   info,
		startTime: time.Now(),
	}
}

// WithDB sets the database checked by the health endpoint.
func (h *HealthHandler) WithDB(db DatabasePinger) *HealthHandler {
	h.db = db
	return h
}

// WithJobs sets the source of the active job count.
func (h *HealthHandler) WithJobs(jobs ActiveJobCounter) *HealthHandler {
	h.jobs = jobs
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	Commit        string         `json:"commit,omitempty"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	ActiveJobs    int            `json:"active_jobs"`
	CPUInfo       CPUInfo        `json:"cpu_info"`
	Memory        MemoryInfo     `json:"memory"`
	Database      DatabaseHealth `json:"database"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system memory and the memory of this process tree, in MB.
// Child processes are the running encoders.
type MemoryInfo struct {
	TotalMemoryMB      float64 `json:"total_memory_mb"`
	UsedMemoryMB       float64 `json:"used_memory_mb"`
	AvailableMemoryMB  float64 `json:"available_memory_mb"`
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// DatabaseHealth reports the registry database status.
type DatabaseHealth struct {
	Status         string  `json:"status"`
	Driver         string  `json:"driver,omitempty"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	Error          string  `json:"error,omitempty"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service. A failing database makes the
// service "degraded"; the endpoint itself still answers 200.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)
	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}

	resp := HealthResponse{
		Status:        status,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version.Version,
		Commit:        h.version.ShortCommit(),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       getCPUInfo(),
		Memory:        getMemoryInfo(),
		Database:      dbHealth,
	}
	if h.jobs != nil {
		resp.ActiveJobs = h.jobs.ActiveCount()
	}

	return &HealthOutput{Body: resp}, nil
}

func getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(info.Cores)) * 100
		}
	}
	return info
}

func getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = toMB(vmStat.Total)
		info.UsedMemoryMB = toMB(vmStat.Used)
		info.AvailableMemoryMB = toMB(vmStat.Available)
	}

	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return info
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		info.MainProcessMB = toMB(memInfo.RSS)
	}
	if children, err := proc.Children(); err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			if childMem, err := child.MemoryInfo(); err == nil && childMem != nil {
				info.ChildProcessesMB += toMB(childMem.RSS)
			}
		}
	}
	if info.TotalMemoryMB > 0 {
		info.PercentageOfSystem = (info.MainProcessMB + info.ChildProcessesMB) / info.TotalMemoryMB * 100
	}
	return info
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "not_configured"}
	}

	health := DatabaseHealth{Status: "ok", Driver: h.db.Driver()}
	start := time.Now()
	err := h.db.Ping(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
		health.Error = err.Error()
	}
	return health
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
