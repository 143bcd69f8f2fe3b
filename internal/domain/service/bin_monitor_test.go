package service_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartBin/internal/domain/model"
	"smartBin/internal/domain/service"
)

func levels(kv map[string]float64) model.BinStatusEvent {
	return model.BinStatusEvent{Levels: kv}
}

func TestBinMonitorHysteresisSequence(t *testing.T) {
	m := service.NewBinMonitor(80, 70)

	var fired []float64
	for _, level := range []float64{50, 82, 75, 65, 90} {
		for _, edge := range m.Evaluate(levels(map[string]float64{"dry": level})) {
			fired = append(fired, edge.Level)
		}
	}

	assert.Equal(t, []float64{82, 90}, fired)
}

func TestBinMonitorBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		levels []float64
		edges  int
	}{
		{"exactly full enters alerting", []float64{80}, 1},
		{"just below full stays normal", []float64{79.9}, 0},
		{"exactly clear keeps alerting", []float64{80, 70, 85}, 1},
		{"below clear re-arms", []float64{80, 69.9, 80}, 2},
		{"sustained full alerts once", []float64{95, 96, 97, 100}, 1},
		{"oscillation around full alerts once", []float64{81, 79, 81, 79, 81}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := service.NewBinMonitor(80, 70)
			edges := 0
			for _, level := range tt.levels {
				edges += len(m.Evaluate(levels(map[string]float64{"wet": level})))
			}
			assert.Equal(t, tt.edges, edges)
		})
	}
}

func TestBinMonitorTracksBinsIndependently(t *testing.T) {
	m := service.NewBinMonitor(80, 70)

	edges := m.Evaluate(levels(map[string]float64{"dry": 85, "wet": 40, "electronic": 90}))
	require.Len(t, edges, 2)
	assert.Equal(t, "dry", edges[0].BinType)
	assert.Equal(t, "electronic", edges[1].BinType)

	edges = m.Evaluate(levels(map[string]float64{"dry": 86, "wet": 81}))
	require.Len(t, edges, 1)
	assert.Equal(t, model.BinTransition{BinType: "wet", Level: 81}, edges[0])

	snapshot := m.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, model.AlertState{BinType: "dry", LastLevel: 86, HasLevel: true, Active: true}, snapshot[0])
	assert.Equal(t, "electronic", snapshot[1].BinType)
	assert.Equal(t, 90.0, snapshot[1].LastLevel)
}

func TestBinMonitorInitialStateIsNormal(t *testing.T) {
	m := service.NewBinMonitor(80, 70)
	assert.Empty(t, m.Snapshot())
	assert.Empty(t, m.Evaluate(levels(map[string]float64{"dry": 10})))
}

func TestBinMonitorConcurrentEvaluateFiresOncePerEpisode(t *testing.T) {
	m := service.NewBinMonitor(80, 70)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		edges int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := len(m.Evaluate(levels(map[string]float64{"dry": 92})))
			mu.Lock()
			edges += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, edges)
}
