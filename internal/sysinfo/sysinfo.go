// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sysinfo backs the System.Info and System.ProcessList commands
// with gopsutil-collected host metrics, following the periodic-collector
// shape of the teacher's agent system monitor.
package sysinfo

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/elcapor/tix/internal/protocol"
)

// DefaultInterval is how often Monitor refreshes its cached snapshot.
const DefaultInterval = 15 * time.Second

// Monitor collects host metrics periodically and serves the latest
// snapshot without blocking on gopsutil calls per request.
type Monitor struct {
	logger   *slog.Logger
	interval time.Duration

	mu   sync.RWMutex
	last protocol.SystemInfoResponse

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor returns a Monitor using interval between collections. A
// non-positive interval falls back to DefaultInterval.
func NewMonitor(interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:   logger.With("component", "sysinfo"),
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins periodic collection in the background, seeding an initial
// snapshot synchronously so the first Info() call returns real data.
func (m *Monitor) Start() {
	m.collect()
	m.wg.Add(1)
	go m.run()
}

// Stop halts the background collector and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	info := protocol.SystemInfoResponse{OS: runtime.GOOS, Arch: runtime.GOARCH}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		m.logger.Debug("failed to read hostname", "error", err)
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		info.CPUPercent = percentages[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		info.MemoryPercent = v.UsedPercent
		info.MemoryTotalBytes = v.Total
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage("/"); err == nil {
		info.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		info.LoadAverage1m = l.Load1
	} else {
		m.logger.Debug("failed to collect load average", "error", err)
	}

	if hi, err := host.Info(); err == nil {
		info.UptimeSeconds = hi.Uptime
	} else {
		m.logger.Debug("failed to collect host uptime", "error", err)
	}

	m.mu.Lock()
	m.last = info
	m.mu.Unlock()
}

// Info returns the most recently collected snapshot. Call Start first; an
// unseeded Monitor returns a zero-value response.
func (m *Monitor) Info() protocol.SystemInfoResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// ProcessList enumerates the running process table for SystemProcessList.
// Unlike Info, this is collected on demand — process enumeration is cheap
// relative to its payload size and the list is rarely requested.
func ProcessList(ctx context.Context) (protocol.SystemProcessListResponse, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return protocol.SystemProcessListResponse{}, err
	}

	out := make([]protocol.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		var rss uint64
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			rss = mi.RSS
		}
		out = append(out, protocol.ProcessInfo{
			PID:        p.Pid,
			Name:       name,
			CPUPercent: cpuPct,
			MemoryRSS:  rss,
		})
	}
	return protocol.SystemProcessListResponse{Processes: out}, nil
}
