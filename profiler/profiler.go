// Package profiler - Timing statistics for the stages of the heatmap layer.
package profiler

import (
	"sort"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// DefaultMaxSamples is the number of recent durations kept per operation.
const DefaultMaxSamples = 1000

// Profiler tracks how long named operations take. It is safe for concurrent
// use.
type Profiler struct {
	mu         sync.Mutex
	maxSamples int
	operations map[string]*timeTracker
}

// timeTracker tracks the timing statistics of one operation.
type timeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// OperationStats summarizes the recorded durations of an operation.
type OperationStats struct {
	Name  string
	Count int64
	// Mean is taken over the retained samples only.
	Mean time.Duration
	Min  time.Duration
	Max  time.Duration
}

// New creates a profiler that keeps the last maxSamples durations of every
// operation. A non-positive maxSamples selects DefaultMaxSamples.
func New(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Profiler{
		maxSamples: maxSamples,
		operations: make(map[string]*timeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
//
// @example
// done := p.StartOperation("heatmap")
// defer done()
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one duration to an operation.
func (p *Profiler) Record(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operations[name]
	if !exists {
		tracker = &timeTracker{
			minTime: duration,
			maxTime: duration,
		}
		p.operations[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > p.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Stats returns the statistics of every operation, ordered by name.
func (p *Profiler) Stats() []OperationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]OperationStats, 0, len(p.operations))
	for name, t := range p.operations {
		stats = append(stats, OperationStats{
			Name:  name,
			Count: t.count,
			Mean:  t.totalTime / time.Duration(len(t.durations)),
			Min:   t.minTime,
			Max:   t.maxTime,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Name < stats[j].Name
	})
	return stats
}

// Report logs the statistics of every operation at Info level.
func (p *Profiler) Report(log logs.Log) {
	for _, s := range p.Stats() {
		log.Infof("%-24s count=%d mean=%v min=%v max=%v", s.Name, s.Count, s.Mean, s.Min, s.Max)
	}
}
