package utils

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartBin/internal/domain/model"
)

var generatorObjects = []struct {
	label string
	dest  model.Destination
}{
	{"plastic bottle", model.DestinationDry},
	{"aluminium can", model.DestinationDry},
	{"cardboard", model.DestinationDry},
	{"banana peel", model.DestinationWet},
	{"apple core", model.DestinationWet},
	{"tea bag", model.DestinationWet},
	{"phone charger", model.DestinationElectronic},
	{"aa battery", model.DestinationElectronic},
	{"hand", model.DestinationNone},
}

// TelemetryGenerator produces fake device telemetry for demos and load tests.
// Bin levels follow a random walk and are emptied once they pass 100, so the
// threshold monitor sees full episodes with hysteresis.
type TelemetryGenerator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	levels map[string]float64
}

// NewTelemetryGenerator creates a new generator. The same seed yields the same sequence.
func NewTelemetryGenerator(seed uint64) *TelemetryGenerator {
	levels := make(map[string]float64)
	for _, d := range model.Destinations {
		if d != model.DestinationNone {
			levels[string(d)] = 0
		}
	}
	return &TelemetryGenerator{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		levels: levels,
	}
}

// GenerateDetections creates count detection events
func (g *TelemetryGenerator) GenerateDetections(count int) []model.DetectionEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]model.DetectionEvent, count)
	for i := range out {
		obj := generatorObjects[g.rng.IntN(len(generatorObjects))]
		out[i] = model.DetectionEvent{
			ID:          uuid.New().String(),
			Timestamp:   time.Now().UTC(),
			ObjectLabel: obj.label,
			Destination: obj.dest,
			Confidence:  0.6 + g.rng.Float64()*0.4,
		}
	}
	return out
}

// NextBinStatus advances every bin by a random step and returns the snapshot.
func (g *TelemetryGenerator) NextBinStatus() model.BinStatusEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	snapshot := make(map[string]float64, len(g.levels))
	for bin, level := range g.levels {
		level += g.rng.Float64() * 8
		if level > 100 {
			level = 0
		}
		g.levels[bin] = level
		snapshot[bin] = float64(int(level*10)) / 10
	}
	return model.BinStatusEvent{Timestamp: time.Now().UTC(), Levels: snapshot}
}
