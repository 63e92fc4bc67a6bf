// Package resource samples host load and turns it into a concurrency budget
// for the worker pool.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is one reading of host utilization, in percent.
type Sample struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	TakenAt       time.Time `json:"taken_at"`
}

// Sampler reads current host utilization.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// HostSampler reads CPU and memory utilization of the local host via gopsutil.
type HostSampler struct{}

func (HostSampler) Sample(ctx context.Context) (Sample, error) {
	// Interval 0 measures against the previous call, so the first reading
	// after startup covers the time since boot.
	cpus, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("read cpu percent: %w", err)
	}
	if len(cpus) == 0 {
		return Sample{}, fmt.Errorf("read cpu percent: no data")
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("read virtual memory: %w", err)
	}

	return Sample{
		CPUPercent:    cpus[0],
		MemoryPercent: vm.UsedPercent,
		TakenAt:       time.Now().UTC(),
	}, nil
}

// Monitor polls a Sampler on a fixed interval and caches the latest reading.
// No history is kept. Readers never block on sampling.
type Monitor struct {
	sampler  Sampler
	interval time.Duration
	logger   *slog.Logger

	latest atomic.Pointer[Sample]

	mu        sync.Mutex
	listeners []func(Sample)
}

// NewMonitor creates a Monitor. A nil logger uses slog.Default().
func NewMonitor(sampler Sampler, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		sampler:  sampler,
		interval: interval,
		logger:   logger,
	}
}

// OnSample registers fn to be called with every successful sample, from the
// sampling goroutine. Register before Run.
func (m *Monitor) OnSample(fn func(Sample)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Latest returns the most recent sample. ok is false until the first
// successful sample.
func (m *Monitor) Latest() (s Sample, ok bool) {
	p := m.latest.Load()
	if p == nil {
		return Sample{}, false
	}
	return *p, true
}

// SampleOnce takes one reading, caches it, and notifies listeners. On error
// the cached sample is left untouched.
func (m *Monitor) SampleOnce(ctx context.Context) error {
	s, err := m.sampler.Sample(ctx)
	if err != nil {
		return err
	}
	m.latest.Store(&s)

	m.mu.Lock()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
	return nil
}

// Run samples immediately and then every interval until ctx is done.
// A failed or panicking iteration is logged and the loop continues.
func (m *Monitor) Run(ctx context.Context) error {
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in resource sampling", "error", r)
		}
	}()

	if err := m.SampleOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("resource sample failed, keeping last budget", "error", err)
		return
	}

	if s, ok := m.Latest(); ok {
		m.logger.Debug("resource sample",
			"cpu_percent", s.CPUPercent,
			"memory_percent", s.MemoryPercent,
		)
	}
}
