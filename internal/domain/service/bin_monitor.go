package service

import (
	"sort"
	"sync"

	"smartBin/internal/domain/model"
	"smartBin/internal/domain/useCases"
)

// Default thresholds, in percent.
const (
	DefaultBinFullThreshold  = 80.0
	DefaultBinClearThreshold = 70.0
)

// BinMonitor tracks the last level and alert state per bin type and reports only the
// Normal->Alerting edges. A bin leaves the alerting state when its level drops below the
// clear threshold, so readings oscillating around the full threshold alert once.
type BinMonitor struct {
	full  float64
	clear float64

	mu     sync.Mutex
	states map[string]*model.AlertState
}

// NewBinMonitor creates a monitor. clear is capped at full.
func NewBinMonitor(full, clear float64) *BinMonitor {
	if clear > full {
		clear = full
	}
	return &BinMonitor{
		full:   full,
		clear:  clear,
		states: make(map[string]*model.AlertState),
	}
}

// Evaluate applies a snapshot and returns the bins that just entered the alerting state,
// sorted by bin type.
func (m *BinMonitor) Evaluate(event model.BinStatusEvent) []model.BinTransition {
	binTypes := make([]string, 0, len(event.Levels))
	for binType := range event.Levels {
		binTypes = append(binTypes, binType)
	}
	sort.Strings(binTypes)

	m.mu.Lock()
	defer m.mu.Unlock()

	var edges []model.BinTransition
	for _, binType := range binTypes {
		level := event.Levels[binType]
		st, ok := m.states[binType]
		if !ok {
			st = &model.AlertState{BinType: binType}
			m.states[binType] = st
		}

		switch {
		case !st.Active && level >= m.full:
			st.Active = true
			edges = append(edges, model.BinTransition{BinType: binType, Level: level})
		case st.Active && level < m.clear:
			st.Active = false
		}
		st.LastLevel = level
		st.HasLevel = true
	}
	return edges
}

// Snapshot returns a copy of every tracked bin's state, sorted by bin type.
func (m *BinMonitor) Snapshot() []model.AlertState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.AlertState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BinType < out[j].BinType })
	return out
}

var _ useCases.ThresholdMonitor = (*BinMonitor)(nil)
