package orchestrator

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/ternarybob/arbor"
)

const (
	cpuGateThreshold = 90.0 // percent
	memGateThreshold = 95.0 // percent
)

// ResourceMonitor samples host CPU and memory so the scheduling loop can
// skip spawning workers under pressure. Samples are cached between the
// monitor loop's refreshes; a failed sample never blocks scheduling.
type ResourceMonitor struct {
	mu          sync.RWMutex
	cpuPercent  float64
	memPercent  float64
	lastSampled time.Time
	logger      arbor.ILogger
}

// NewResourceMonitor creates a resource monitor.
func NewResourceMonitor(logger arbor.ILogger) *ResourceMonitor {
	return &ResourceMonitor{logger: logger}
}

// Sample refreshes the cached readings.
func (m *ResourceMonitor) Sample() {
	percentages, err := cpu.Percent(0, false)
	cpuVal := 0.0
	if err == nil && len(percentages) > 0 {
		cpuVal = percentages[0]
	} else if err != nil {
		m.logger.Debug().Err(err).Msg("CPU sample failed")
	}

	memVal := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memVal = vm.UsedPercent
	} else {
		m.logger.Debug().Err(err).Msg("Memory sample failed")
	}

	m.mu.Lock()
	m.cpuPercent = cpuVal
	m.memPercent = memVal
	m.lastSampled = time.Now()
	m.mu.Unlock()
}

// Permits reports whether resource headroom allows spawning another worker.
// Before the first sample it always permits.
func (m *ResourceMonitor) Permits() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastSampled.IsZero() {
		return true
	}
	return m.cpuPercent < cpuGateThreshold && m.memPercent < memGateThreshold
}

// Readings returns the cached CPU and memory percentages.
func (m *ResourceMonitor) Readings() (cpuPercent, memPercent float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cpuPercent, m.memPercent
}
