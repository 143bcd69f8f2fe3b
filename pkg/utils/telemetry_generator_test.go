package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDetections(t *testing.T) {
	g := NewTelemetryGenerator(1)
	events := g.GenerateDetections(50)
	require.Len(t, events, 50)

	ids := make(map[string]bool)
	for _, e := range events {
		assert.True(t, e.Destination.Valid())
		assert.NotEmpty(t, e.ObjectLabel)
		assert.GreaterOrEqual(t, e.Confidence, 0.6)
		assert.LessOrEqual(t, e.Confidence, 1.0)
		ids[e.ID] = true
	}
	assert.Len(t, ids, 50)
}

func TestNextBinStatusStaysInRangeAndEmpties(t *testing.T) {
	g := NewTelemetryGenerator(7)
	emptied := false
	prev := map[string]float64{}
	for i := 0; i < 200; i++ {
		st := g.NextBinStatus()
		require.Len(t, st.Levels, 3)
		for bin, level := range st.Levels {
			assert.GreaterOrEqual(t, level, 0.0)
			assert.LessOrEqual(t, level, 100.0)
			if level < prev[bin] {
				emptied = true
			}
			prev[bin] = level
		}
	}
	assert.True(t, emptied)
}
