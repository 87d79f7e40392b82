// Package observability watches host resource pressure and lets the
// server react to it, alongside the Prometheus collectors in its metrics
// subpackage (SPEC_FULL.md §2.5, §3 "gopsutil ... feeding a monitor
// module that can suspend sinks under resource pressure").
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/driftsound/driftsound/internal/logger"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SinkController is the subset of *protocol.Server a ResourceMonitor
// needs; kept as an interface so this package never imports protocol.
type SinkController interface {
	SuspendAllSinks()
	ResumeAllSinks()
}

// Thresholds configures when a ResourceMonitor considers the host under
// pressure (percent, 0-100) and when it considers pressure to have
// subsided. WarningPercent should sit comfortably below CriticalPercent
// to avoid flapping suspend/resume on noisy readings.
type Thresholds struct {
	MemoryCriticalPercent float64
	MemoryWarningPercent  float64
	CPUCriticalPercent    float64
	CPUWarningPercent     float64
}

// ResourceMonitor polls host CPU and memory usage on an interval and
// suspends every sink while usage stays above a critical threshold,
// resuming once it drops back below a lower warning threshold
// (hysteresis, mirroring the teacher's warning/critical pair rather than
// a single flap-prone cutoff).
type ResourceMonitor struct {
	interval   time.Duration
	thresholds Thresholds
	sinks      SinkController
	log        logger.Logger

	mu        sync.Mutex
	suspended bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResourceMonitor builds a monitor that polls every interval (a zero
// or negative interval defaults to 30s, matching the teacher's
// system_monitor.go default check interval).
func NewResourceMonitor(interval time.Duration, thresholds Thresholds, sinks SinkController) *ResourceMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ResourceMonitor{
		interval:   interval,
		thresholds: thresholds,
		sinks:      sinks,
		log:        logger.Global().Module("observability"),
	}
}

// Start begins polling in a background goroutine. Call Stop to end it.
func (m *ResourceMonitor) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.loop()
}

// Stop cancels polling and waits for the goroutine to exit.
func (m *ResourceMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
}

func (m *ResourceMonitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check()
	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *ResourceMonitor) check() {
	critical := false
	warning := false

	if vm, err := mem.VirtualMemory(); err != nil {
		m.log.Warn("failed to sample host memory", logger.Error(err))
	} else {
		m.log.Debug("host memory sample", logger.Float64("used_percent", vm.UsedPercent))
		if vm.UsedPercent >= m.thresholds.MemoryCriticalPercent {
			critical = true
		} else if vm.UsedPercent >= m.thresholds.MemoryWarningPercent {
			warning = true
		}
	}

	if pct, err := cpu.Percent(0, false); err != nil {
		m.log.Warn("failed to sample host CPU", logger.Error(err))
	} else if len(pct) > 0 {
		m.log.Debug("host CPU sample", logger.Float64("used_percent", pct[0]))
		if pct[0] >= m.thresholds.CPUCriticalPercent {
			critical = true
		} else if pct[0] >= m.thresholds.CPUWarningPercent {
			warning = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case critical && !m.suspended:
		m.suspended = true
		m.log.Warn("host resources critical, suspending every sink")
		m.sinks.SuspendAllSinks()
	case m.suspended && !critical && !warning:
		m.suspended = false
		m.log.Info("host resources recovered, resuming every sink")
		m.sinks.ResumeAllSinks()
	}
}
