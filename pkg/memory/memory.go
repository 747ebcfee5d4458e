// =============================================================================
// pkg/memory/memory.go - RAM Monitoring
// =============================================================================
//
// Process memory monitoring for the loading phase. Folding many large hosts
// concurrently is where the analyzer's memory peaks; the loader checks RSS
// at host boundaries and warns once when the threshold is crossed.
//
// =============================================================================

package memory

import (
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/conflux-perf/chain-latency-analyzer/helpers"
	"github.com/conflux-perf/chain-latency-analyzer/pkg/logging"
)

const (
	// DefaultRAMWarningThresholdGB is the RSS threshold that triggers a
	// warning.
	DefaultRAMWarningThresholdGB = 16

	gb = 1 << 30
)

// =============================================================================
// MemoryMonitor - Track Process Memory Usage
// =============================================================================

// MemoryMonitor tracks and reports process memory usage.
//
// USAGE:
//
//	monitor := memory.NewMemoryMonitor(logger, 16) // 16 GB threshold
//
//	// At checkpoints:
//	monitor.Check()
type MemoryMonitor struct {
	mu sync.Mutex

	logger             logging.Logger
	warningThresholdGB float64

	// warningLogged tracks if we've logged a warning (to avoid spam)
	warningLogged bool

	peakRSSBytes int64
	lastCheck    time.Time
	checkCount   int
}

// NewMemoryMonitor creates a new MemoryMonitor with the given RSS warning
// threshold in GB.
func NewMemoryMonitor(logger logging.Logger, warningThresholdGB float64) *MemoryMonitor {
	return &MemoryMonitor{
		logger:             logger,
		warningThresholdGB: warningThresholdGB,
	}
}

// Check reads current memory usage, updates the peak and logs a warning the
// first time the threshold is exceeded. Returns current RSS in bytes.
func (m *MemoryMonitor) Check() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	rss := GetRSSBytes()
	m.checkCount++
	m.lastCheck = time.Now()

	if rss > m.peakRSSBytes {
		m.peakRSSBytes = rss
	}

	rssGB := float64(rss) / gb
	if rssGB > m.warningThresholdGB && !m.warningLogged {
		m.logger.Error("MEMORY WARNING: RSS %.2f GB exceeds threshold %.0f GB",
			rssGB, m.warningThresholdGB)
		m.warningLogged = true
	}
	if rssGB < m.warningThresholdGB*0.9 {
		m.warningLogged = false
	}

	return rss
}

// PeakRSSGB returns the peak RSS observed in gigabytes.
func (m *MemoryMonitor) PeakRSSGB() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.peakRSSBytes) / gb
}

// LogSummary logs a summary of memory usage.
func (m *MemoryMonitor) LogSummary(logger logging.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()

	currentRSS := GetRSSBytes()
	logger.Info("MEMORY SUMMARY:")
	logger.Info("  Current RSS:       %s", helpers.FormatBytes(currentRSS))
	logger.Info("  Peak RSS:          %s", helpers.FormatBytes(m.peakRSSBytes))
	logger.Info("  Warning Threshold: %.0f GB", m.warningThresholdGB)
	logger.Info("  Checks Performed:  %d", m.checkCount)
}

// =============================================================================
// Platform-Specific RSS Reading
// =============================================================================

// GetRSSBytes returns the current Resident Set Size in bytes.
//
// PLATFORM BEHAVIOR:
//   - Darwin/Linux: Uses syscall.Getrusage for accurate RSS
//   - Other: Falls back to runtime.MemStats (less accurate)
//
// NOTE:
//
//	On macOS, Getrusage returns RSS in bytes.
//	On Linux, Getrusage returns RSS in kilobytes (we multiply by 1024).
func GetRSSBytes() int64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		return int64(memStats.Sys)
	}

	rss := rusage.Maxrss
	if runtime.GOOS == "linux" {
		rss *= 1024
	}
	return rss
}
