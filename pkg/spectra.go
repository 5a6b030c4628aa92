package pixie

import (
	"math"
	"sort"
)

// Spectra holds the chunked spectra of a run, one per (rule, channel).
type Spectra struct {
	TStart   float64
	Duration float64
	Arrays   map[SpectrumKey]*SpectrumArray
}

func NewSpectra(tStart, duration float64) *Spectra {
	return &Spectra{
		TStart:   tStart,
		Duration: duration,
		Arrays:   make(map[SpectrumKey]*SpectrumArray),
	}
}

func (s *Spectra) Get(rule Rule, channel int) (*SpectrumArray, bool) {
	array, ok := s.Arrays[SpectrumKey{Rule: rule, Channel: channel}]
	return array, ok
}

// TotalDuration is the time between the first and the last decoded event.
func (s *Spectra) TotalDuration() float64 {
	return s.Duration
}

// Boundary is the time up to which row i has counted events. The last rows
// are clamped to the end of the run.
func (s *SpectrumArray) Boundary(i int) float64 {
	end := s.TStart + s.Duration
	if i >= len(s.Rows)-1 {
		return end
	}
	return math.Min(s.TStart+float64(i+1)*s.ChunkWidth, end)
}

// RowAt returns the last row that is complete at absolute time t, or -1
// when t is before the first chunk boundary.
func (s *SpectrumArray) RowAt(t float64) int {
	i := sort.Search(len(s.Rows), func(i int) bool {
		return s.Boundary(i) > t
	})
	return i - 1
}

func (s *SpectrumArray) row(i int) []int32 {
	if i < 0 {
		return make([]int32, s.NumBins())
	}
	return s.Rows[i]
}

// HistogramBetween is the row difference between the snapshots at t0 and t1.
// The resolution is the chunk width.
func (s *SpectrumArray) HistogramBetween(t0, t1 float64) []int32 {
	if t1 < t0 {
		t0, t1 = t1, t0
	}
	upper := s.row(s.RowAt(t1))
	lower := s.row(s.RowAt(t0))
	hist := make([]int32, len(upper))
	for i := range upper {
		hist[i] = upper[i] - lower[i]
	}
	return hist
}

func (s *SpectrumArray) CountBetween(t0, t1 float64) int64 {
	var total int64
	for _, count := range s.HistogramBetween(t0, t1) {
		total += int64(count)
	}
	return total
}

// Total returns the whole-run histogram.
func (s *SpectrumArray) Total() []int32 {
	return s.row(len(s.Rows) - 1)
}
