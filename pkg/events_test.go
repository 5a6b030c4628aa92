package pixie

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelHitStates(t *testing.T) {
	tests := []struct {
		hit      ChannelHit
		asserted bool
		valid    bool
		sentinel int32
	}{
		{notFired(), false, false, NoEnergy},
		{fired(42, 1), true, true, 42},
		{overRange(9000, 1), true, false, NoEnergy},
	}
	for _, tt := range tests {
		t.Run(tt.hit.State.String(), func(t *testing.T) {
			assert.Equal(t, tt.asserted, tt.hit.Asserted())
			assert.Equal(t, tt.valid, tt.hit.Valid())
			assert.Equal(t, tt.sentinel, tt.hit.Sentinel())
		})
	}
}

func TestGammaEventDelta(t *testing.T) {
	event := makeEvent(0, map[int]ChannelHit{0: fired(1, 100), 1: fired(2, 130)})

	assert.Equal(t, 30.0, event.Delta(0, 1))
	assert.Equal(t, 30.0, event.Delta(1, 0))
	assert.Equal(t, 0.0, event.Delta(2, 2))
	assert.True(t, math.IsNaN(event.Delta(0, 2)))
	assert.True(t, math.IsNaN(event.Delta(2, 1)))
}

func TestDurationTracker(t *testing.T) {
	var tracker DurationTracker
	assert.False(t, tracker.Started())
	assert.Zero(t, tracker.Duration())

	for _, ts := range []float64{10, 12.5, 11, 40} {
		tracker.Observe(GammaEvent{Timestamp: ts})
	}

	assert.True(t, tracker.Started())
	assert.Equal(t, 4, tracker.Count)
	assert.Equal(t, 1, tracker.Regressed)
	assert.Equal(t, 10.0, tracker.TStart)
	assert.Equal(t, 40.0, tracker.TFinal)
	assert.Equal(t, 30.0, tracker.Duration())
}

func TestDurationTrackerSingleEvent(t *testing.T) {
	var tracker DurationTracker
	tracker.Observe(GammaEvent{Timestamp: 5})
	assert.Zero(t, tracker.Duration())
	assert.Equal(t, 5.0, tracker.TStart)
}
