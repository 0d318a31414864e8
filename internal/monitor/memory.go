package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/kyleking/nest-mcp/internal/logging"
)

// MemoryStats is a point-in-time view of process memory
type MemoryStats struct {
	AllocMB        float64   `json:"alloc_mb"`
	SysMB          float64   `json:"sys_mb"`
	StackInUseMB   float64   `json:"stack_in_use_mb"`
	NumGC          uint32    `json:"num_gc"`
	GoroutineCount int       `json:"goroutine_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Sample reads the current memory statistics
func Sample() MemoryStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MemoryStats{
		AllocMB:        float64(memStats.Alloc) / 1024 / 1024,
		SysMB:          float64(memStats.Sys) / 1024 / 1024,
		StackInUseMB:   float64(memStats.StackInuse) / 1024 / 1024,
		NumGC:          memStats.NumGC,
		GoroutineCount: runtime.NumGoroutine(),
		LastUpdated:    time.Now(),
	}
}

// MemoryMonitor samples memory periodically and warns when allocation
// crosses a threshold. Large result sets are the usual cause.
type MemoryMonitor struct {
	mu          sync.RWMutex
	stats       MemoryStats
	thresholdMB float64
	sample      func() MemoryStats
	logger      *logging.Logger
}

// NewMemoryMonitor creates a monitor warning above thresholdMB; zero never warns
func NewMemoryMonitor(thresholdMB float64, logger *logging.Logger) *MemoryMonitor {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &MemoryMonitor{
		thresholdMB: thresholdMB,
		sample:      Sample,
		logger:      logger.WithField("component", "monitor"),
	}
}

// Run samples every interval until ctx is done
func (m *MemoryMonitor) Run(ctx context.Context, interval time.Duration) {
	m.update()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.update()
		}
	}
}

// GetStats returns the latest sample, taking one if none exists yet
func (m *MemoryMonitor) GetStats() MemoryStats {
	m.mu.RLock()
	stats := m.stats
	m.mu.RUnlock()

	if stats.LastUpdated.IsZero() {
		return m.update()
	}

	return stats
}

// GetMemoryPressure returns allocated over system memory, clamped to [0, 1]
func (m *MemoryMonitor) GetMemoryPressure() float64 {
	stats := m.GetStats()
	if stats.SysMB == 0 {
		return 0
	}

	return min(stats.AllocMB/stats.SysMB, 1.0)
}

func (m *MemoryMonitor) update() MemoryStats {
	stats := m.sample()

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()

	if m.thresholdMB > 0 && stats.AllocMB > m.thresholdMB {
		m.logger.WithFields(map[string]any{
			"alloc_mb":     fmt.Sprintf("%.1f", stats.AllocMB),
			"threshold_mb": m.thresholdMB,
			"goroutines":   stats.GoroutineCount,
		}).Warn("memory above threshold")
	}

	return stats
}
