package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage statistics for an encoder process.
type ProcessStats struct {
	PID int `json:"pid"`

	CPUPercent float64       `json:"cpu_percent"` // 0-100 per core
	CPUUser    time.Duration `json:"cpu_user"`
	CPUSystem  time.Duration `json:"cpu_system"`

	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
	MemoryVMSBytes uint64  `json:"memory_vms_bytes"`
	MemoryPercent  float64 `json:"memory_percent"`

	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	LastUpdated time.Time     `json:"last_updated,omitzero"`
}

// ProcessMonitor samples resource usage of a running encoder process.
type ProcessMonitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration

	mu      sync.RWMutex
	stats   ProcessStats
	proc    *process.Process
	running bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for pid. Sampling begins on Start.
func NewProcessMonitor(pid int) *ProcessMonitor {
	now := time.Now()
	return &ProcessMonitor{
		pid:       pid,
		startedAt: now,
		interval:  time.Second,
		stats:     ProcessStats{PID: pid, StartedAt: now},
	}
}

// SetInterval sets the sampling interval. It must be called before Start.
func (pm *ProcessMonitor) SetInterval(d time.Duration) {
	pm.mu.Lock()
	pm.interval = d
	pm.mu.Unlock()
}

// Start begins sampling in the background until Stop is called.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.running {
		return
	}
	pm.running = true

	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel
	pm.wg.Add(1)
	go pm.monitorLoop(ctx, pm.interval)
}

// Stop stops sampling and waits for the sampler to exit. The last sample is kept.
func (pm *ProcessMonitor) Stop() {
	pm.mu.Lock()
	cancel := pm.cancel
	pm.running = false
	pm.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	pm.wg.Wait()
}

// Stats returns the most recent sample.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.stats
}

func (pm *ProcessMonitor) monitorLoop(ctx context.Context, interval time.Duration) {
	defer pm.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.sample(ctx)
		}
	}
}

func (pm *ProcessMonitor) sample(ctx context.Context) {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.Duration = now.Sub(pm.startedAt)

	if pm.proc == nil {
		p, err := process.NewProcessWithContext(ctx, int32(pm.pid))
		if err != nil {
			return // process already gone
		}
		pm.proc = p
	}

	// Percent with a zero interval measures since the previous call.
	if cpu, err := pm.proc.PercentWithContext(ctx, 0); err == nil {
		pm.stats.CPUPercent = cpu
	}
	if times, err := pm.proc.TimesWithContext(ctx); err == nil {
		pm.stats.CPUUser = time.Duration(times.User * float64(time.Second))
		pm.stats.CPUSystem = time.Duration(times.System * float64(time.Second))
	}
	if mem, err := pm.proc.MemoryInfoWithContext(ctx); err == nil {
		pm.stats.MemoryRSSBytes = mem.RSS
		pm.stats.MemoryVMSBytes = mem.VMS
	}
	if pct, err := pm.proc.MemoryPercentWithContext(ctx); err == nil {
		pm.stats.MemoryPercent = float64(pct)
	}
	pm.stats.LastUpdated = now
}
