// Package service provides implementations of domain services that implement core business logic
// This package depends only on domain models and repository interfaces (not implementations)
package service

import (
	"sync"

	"smartBin/internal/domain/model"
	"smartBin/internal/domain/useCases"
)

// DefaultHistoryCapacity is used when a non-positive capacity is requested.
const DefaultHistoryCapacity = 100

const dayLayout = "2006-01-02"

// DetectionAggregator keeps running detection counters and a bounded history.
// History and counters are mutated under one lock, so a snapshot never shows a counter
// for an event that is not in history (or the reverse, until ResetStats is called).
type DetectionAggregator struct {
	mu sync.RWMutex

	// ring buffer, oldest entry at head
	history  []model.DetectionEvent
	head     int
	size     int
	capacity int

	total         int
	byDestination map[model.Destination]int
	byDay         map[string]int
	last          *model.DetectionEvent
}

// NewDetectionAggregator creates an aggregator that retains the last capacity events.
func NewDetectionAggregator(capacity int) *DetectionAggregator {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	a := &DetectionAggregator{
		history:  make([]model.DetectionEvent, capacity),
		capacity: capacity,
	}
	a.resetCountersLocked()
	return a
}

// Capacity returns the maximum number of events kept in history.
func (a *DetectionAggregator) Capacity() int {
	return a.capacity
}

// Record appends the event to history, evicting the oldest entry when full, and folds it
// into the counters.
func (a *DetectionAggregator) Record(event model.DetectionEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordLocked(event)
}

// Restore replays archived events (newest first, as returned by the archive) into an
// empty aggregator. Events beyond capacity are dropped by the normal eviction rule.
func (a *DetectionAggregator) Restore(newestFirst []model.DetectionEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(newestFirst) - 1; i >= 0; i-- {
		a.recordLocked(newestFirst[i])
	}
}

// RestoreStats adopts a cached counter snapshot when it covers at least as many detections as
// the aggregator has counted so far. It reports whether the snapshot was taken.
func (a *DetectionAggregator) RestoreStats(stats model.Stats) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if stats.TotalDetections < a.total {
		return false
	}

	a.total = stats.TotalDetections
	for _, d := range model.Destinations {
		a.byDestination[d] = 0
	}
	for k, v := range stats.CountsByDestination {
		a.byDestination[k] = v
	}
	a.byDay = make(map[string]int, len(stats.CountsByDay))
	for k, v := range stats.CountsByDay {
		a.byDay[k] = v
	}
	if stats.LastDetection != nil {
		last := *stats.LastDetection
		a.last = &last
	}
	return true
}

func (a *DetectionAggregator) recordLocked(event model.DetectionEvent) {
	if a.size < a.capacity {
		a.history[(a.head+a.size)%a.capacity] = event
		a.size++
	} else {
		a.history[a.head] = event
		a.head = (a.head + 1) % a.capacity
	}

	a.total++
	a.byDestination[event.Destination]++
	a.byDay[event.Timestamp.UTC().Format(dayLayout)]++
	last := event
	a.last = &last
}

// GetStats returns a consistent copy of the counters.
func (a *DetectionAggregator) GetStats() model.Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := model.Stats{
		TotalDetections:     a.total,
		CountsByDestination: make(map[model.Destination]int, len(a.byDestination)),
		CountsByDay:         make(map[string]int, len(a.byDay)),
	}
	for k, v := range a.byDestination {
		stats.CountsByDestination[k] = v
	}
	for k, v := range a.byDay {
		stats.CountsByDay[k] = v
	}
	if a.last != nil {
		last := *a.last
		stats.LastDetection = &last
	}
	return stats
}

// GetHistory returns up to limit events, newest first. limit is clamped to [0, capacity].
func (a *DetectionAggregator) GetHistory(limit int) []model.DetectionEvent {
	if limit < 0 {
		limit = 0
	}
	if limit > a.capacity {
		limit = a.capacity
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit > a.size {
		limit = a.size
	}
	out := make([]model.DetectionEvent, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (a.head + a.size - 1 - i) % a.capacity
		out = append(out, a.history[idx])
	}
	return out
}

// ClearHistory empties history and resets every counter.
func (a *DetectionAggregator) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.history {
		a.history[i] = model.DetectionEvent{}
	}
	a.head, a.size = 0, 0
	a.resetCountersLocked()
}

// ResetStats resets the counters and keeps the raw history.
func (a *DetectionAggregator) ResetStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetCountersLocked()
}

func (a *DetectionAggregator) resetCountersLocked() {
	a.total = 0
	a.byDestination = make(map[model.Destination]int, len(model.Destinations))
	for _, d := range model.Destinations {
		a.byDestination[d] = 0
	}
	a.byDay = make(map[string]int)
	a.last = nil
}

// Ensure interface compliance
var _ useCases.DetectionAggregator = (*DetectionAggregator)(nil)
