package resource

import (
	"log/slog"
	"sync"
)

// DefaultHighWaterPercent is the utilization above which the budget shrinks.
const DefaultHighWaterPercent = 80.0

// Governor derives the effective worker budget from host load. Each
// observed sample above the high-water mark lowers the budget by one, each
// sample below it raises it by one, bounded to [1, max]. Running jobs are
// never preempted; the pool reads the budget before accepting new work.
type Governor struct {
	max       int
	highWater float64
	logger    *slog.Logger

	mu     sync.RWMutex
	budget int
}

// NewGovernor creates a Governor starting at the full budget. maxWorkers below 1
// is treated as 1; a non-positive highWater uses DefaultHighWaterPercent.
func NewGovernor(maxWorkers int, highWater float64, logger *slog.Logger) *Governor {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if highWater <= 0 {
		highWater = DefaultHighWaterPercent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		max:       maxWorkers,
		highWater: highWater,
		logger:    logger,
		budget:    maxWorkers,
	}
}

// EffectiveWorkers returns the current budget, always in [1, Max()].
func (g *Governor) EffectiveWorkers() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.budget
}

// Max returns the configured maximum.
func (g *Governor) Max() int {
	return g.max
}

// Observe adjusts the budget for one sample and returns the new value.
func (g *Governor) Observe(s Sample) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.budget
	if g.overloaded(s) {
		if g.budget > 1 {
			g.budget--
		}
	} else if g.budget < g.max {
		g.budget++
	}

	if g.budget < prev {
		g.logger.Warn("high resource usage, reducing concurrency",
			"cpu_percent", s.CPUPercent,
			"memory_percent", s.MemoryPercent,
			"effective_workers", g.budget,
		)
	} else if g.budget > prev {
		g.logger.Info("resource usage recovered, raising concurrency",
			"effective_workers", g.budget,
		)
	}
	return g.budget
}

func (g *Governor) overloaded(s Sample) bool {
	return s.CPUPercent > g.highWater || s.MemoryPercent > g.highWater
}
