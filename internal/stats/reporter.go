// Package stats implements the periodic metrics reporter used by the
// daemons: system load from gopsutil plus per-director counters.
package stats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nishisan-dev/bacomm/internal/logging"
)

// SystemStats holds collected system metrics.
type SystemStats struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAverage   float64
}

// Source supplies slog key/value pairs for one reported component.
type Source func() []any

// Reporter logs a stats line per source at a fixed interval, prefixed
// with the host metrics.
type Reporter struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	sources map[string]Source

	close chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewReporter creates a reporter; Start must be called to begin.
func NewReporter(interval time.Duration, logger *slog.Logger) *Reporter {
	return &Reporter{
		logger:   logging.Component(logger, "stats"),
		interval: interval,
		sources:  make(map[string]Source),
		close:    make(chan struct{}),
	}
}

// AddSource registers a named source. Safe before or after Start.
func (r *Reporter) AddSource(name string, fn Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = fn
}

// Start begins periodic reporting.
func (r *Reporter) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop halts reporting and waits for the goroutine to finish.
func (r *Reporter) Stop() {
	r.once.Do(func() { close(r.close) })
	r.wg.Wait()
}

func (r *Reporter) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.close:
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	sys := collect()
	r.logger.Info("system stats",
		"cpu_percent", sys.CPUPercent,
		"memory_percent", sys.MemoryPercent,
		"load_average", sys.LoadAverage,
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, fn := range r.sources {
		fields := append([]any{"source", name}, fn()...)
		r.logger.Info("transport stats", fields...)
	}
}

// collect gathers host metrics. Collection errors leave the field at
// zero; a stats line must never fail the reporter.
func collect() SystemStats {
	var s SystemStats

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		s.LoadAverage = avg.Load1
	}

	return s
}
