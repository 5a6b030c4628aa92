package pixie

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run from 100 s to 230 s with 60 s chunks: boundaries at 160, 220, 230, 230.
func chunkedSpectrum() *SpectrumArray {
	stream := []ClassifiedEvent{at(110, 5), at(170, 6), at(230, 7)}
	return Accumulate(SpectrumKey{Compton, 1}, stream, smallContext(10, 60), 100, 130)
}

func TestSpectrumArrayBoundary(t *testing.T) {
	spectrum := chunkedSpectrum()
	require.Len(t, spectrum.Rows, 4)

	got := make([]float64, len(spectrum.Rows))
	for i := range got {
		got[i] = spectrum.Boundary(i)
	}
	assert.Equal(t, []float64{160, 220, 230, 230}, got)
}

func TestSpectrumArrayRowAt(t *testing.T) {
	spectrum := chunkedSpectrum()
	tests := map[float64]int{
		0:     -1,
		100:   -1,
		159.9: -1,
		160:   0,
		219.9: 0,
		220:   1,
		229:   1,
		230:   3,
		1000:  3,
	}
	for ts, want := range tests {
		assert.Equal(t, want, spectrum.RowAt(ts), "t=%g", ts)
	}
}

func TestSpectrumArrayHistogramBetween(t *testing.T) {
	spectrum := chunkedSpectrum()

	assert.Equal(t, spectrum.Total(), spectrum.HistogramBetween(100, 1000))
	assert.Equal(t, countsRow(10, nil), spectrum.HistogramBetween(100, 150))
	assert.Equal(t, countsRow(10, map[int]int32{6: 1, 7: 1}), spectrum.HistogramBetween(160, 230))
	assert.Equal(t, countsRow(10, map[int]int32{6: 1}), spectrum.HistogramBetween(220, 160))

	assert.Equal(t, int64(3), spectrum.CountBetween(0, 230))
	assert.Equal(t, int64(2), spectrum.CountBetween(160, 230))
	assert.Zero(t, spectrum.CountBetween(230, 5000))
}

func TestAccumulateAll(t *testing.T) {
	ctx := testContext()
	ctx.ChunkWidth = 100
	events := randomEvents(3, 1500)
	var tracker DurationTracker
	for _, event := range events {
		tracker.Observe(event)
	}
	streams := ClassifyAll(events, ctx)

	for _, workers := range []int{0, 1, 4, 16} {
		spectra, err := AccumulateAll(streams, tracker, ctx, workers)
		require.NoError(t, err)
		require.Len(t, spectra.Arrays, len(SpectrumKeys()))
		assert.Equal(t, tracker.Duration(), spectra.TotalDuration())

		for _, key := range SpectrumKeys() {
			got, ok := spectra.Get(key.Rule, key.Channel)
			require.True(t, ok, key.String())
			want := Accumulate(key, streams[key], ctx, tracker.TStart, tracker.Duration())
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%d workers, %s mismatch (-want +got):\n%s", workers, key, diff)
			}
			assert.Equal(t, histogramOf(streams[key], ctx.EnergyMax), got.Total())
		}
	}
}

func TestSpectraGetMissing(t *testing.T) {
	spectra := NewSpectra(0, 10)
	_, ok := spectra.Get(Normal, 1)
	assert.False(t, ok)
}
