// Package profiler - Operation timing and runtime statistics for detection runs.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxSamples bounds the durations kept per operation.
const DefaultMaxSamples = 600

// OperationStats summarizes the recorded durations of one operation.
type OperationStats struct {
	Name  string
	Count int64
	// Total, Min and Max cover every recorded call. Mean covers the retained window.
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
}

type tracker struct {
	durations []time.Duration
	window    time.Duration
	total     time.Duration
	min       time.Duration
	max       time.Duration
	count     int64
}

// Profiler records how long named operations take.
type Profiler struct {
	mu         sync.Mutex
	start      time.Time
	maxSamples int
	operations map[string]*tracker
}

// New creates a profiler keeping at most maxSamples durations per operation.
// maxSamples <= 0 uses DefaultMaxSamples.
func New(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Profiler{
		start:      time.Now(),
		maxSamples: maxSamples,
		operations: make(map[string]*tracker),
	}
}

// StartOperation starts timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - A function to call when the operation completes.
//
// @example
// done := p.StartOperation("detect")
// dets, err := detector.Detect(ctx, x)
// done()
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one duration to the named operation.
func (p *Profiler) Record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operations[name]
	if !ok {
		t = &tracker{min: d, max: d}
		p.operations[name] = t
	}

	t.durations = append(t.durations, d)
	t.window += d
	if len(t.durations) > p.maxSamples {
		t.window -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.total += d
	t.count++
	t.min = min(t.min, d)
	t.max = max(t.max, d)
}

// Stats returns the statistics of every operation sorted by name.
func (p *Profiler) Stats() []OperationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OperationStats, 0, len(p.operations))
	for name, t := range p.operations {
		s := OperationStats{Name: name, Count: t.count, Total: t.total, Min: t.min, Max: t.max}
		if len(t.durations) > 0 {
			s.Mean = t.window / time.Duration(len(t.durations))
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Report logs one line per operation plus the current memory usage.
func (p *Profiler) Report(log logrus.FieldLogger) {
	for _, s := range p.Stats() {
		log.WithFields(logrus.Fields{
			"operation": s.Name,
			"count":     s.Count,
			"mean":      s.Mean,
			"min":       s.Min,
			"max":       s.Max,
			"total":     s.Total,
		}).Info("operation timing")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.WithFields(logrus.Fields{
		"uptime":     time.Since(p.start).Round(time.Millisecond),
		"goroutines": runtime.NumGoroutine(),
		"heap_alloc": formatBytes(mem.HeapAlloc),
		"sys":        formatBytes(mem.Sys),
		"gc_cycles":  mem.NumGC,
	}).Info("runtime")
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
