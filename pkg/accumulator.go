package pixie

import (
	"fmt"
	"math"
)

// SpectrumArray is a cumulative histogram sampled at every chunk boundary.
// Row i holds the counts of the events with timestamp - TStart < (i+1)*T,
// the last row holds the whole run.
type SpectrumArray struct {
	Rule       Rule
	Channel    int
	ChunkWidth float64
	TStart     float64
	Duration   float64
	Events     int
	Rows       [][]int32
}

func (s *SpectrumArray) Key() SpectrumKey {
	return SpectrumKey{Rule: s.Rule, Channel: s.Channel}
}

func (s *SpectrumArray) NumBins() int {
	if len(s.Rows) == 0 {
		return 0
	}
	return len(s.Rows[0])
}

// Flat returns the rows in row-major order, the layout of the stored dataset.
func (s *SpectrumArray) Flat() []int32 {
	bins := s.NumBins()
	flat := make([]int32, 0, len(s.Rows)*bins)
	for _, row := range s.Rows {
		flat = append(flat, row...)
	}
	return flat
}

// NumChunks gives the number of rows of a run of the given duration,
// ceil(duration/T) plus the total row.
func NumChunks(duration, chunkWidth float64) int {
	if duration <= 0 {
		return 1
	}
	return int(math.Ceil(duration/chunkWidth)) + 1
}

type Accumulator struct {
	rule       Rule
	channel    int
	tStart     float64
	duration   float64
	chunkWidth float64
	working    []int32
	rows       [][]int32
	ti         int
	events     int
	skipped    int
}

func NewAccumulator(rule Rule, channel int, ctx RunContext, tStart, duration float64) *Accumulator {
	nRows := NumChunks(duration, ctx.ChunkWidth)
	return &Accumulator{
		rule:       rule,
		channel:    channel,
		tStart:     tStart,
		duration:   duration,
		chunkWidth: ctx.ChunkWidth,
		working:    make([]int32, ctx.EnergyMax+1),
		rows:       make([][]int32, nRows),
	}
}

func (a *Accumulator) snapshot() {
	row := make([]int32, len(a.working))
	copy(row, a.working)
	a.rows[a.ti] = row
	a.ti++
}

// Add bins one event. Every chunk boundary the event has passed is
// snapshotted first, so chunks without events repeat the previous row.
func (a *Accumulator) Add(event ClassifiedEvent) {
	last := len(a.rows) - 1
	for a.ti < last && event.Timestamp-a.tStart >= float64(a.ti+1)*a.chunkWidth {
		a.snapshot()
	}
	if int(event.Energy) >= len(a.working) {
		a.skipped++
		return
	}
	a.working[event.Energy]++
	a.events++
}

func (a *Accumulator) Finish() *SpectrumArray {
	last := len(a.rows) - 1
	for a.ti < last {
		a.snapshot()
	}
	a.snapshot()
	if a.skipped > 0 {
		message := fmt.Sprintf("%s%d: %d events outside the histogram range", a.rule.Code(), a.channel, a.skipped)
		logger.Error(message)
	}
	return &SpectrumArray{
		Rule:       a.rule,
		Channel:    a.channel,
		ChunkWidth: a.chunkWidth,
		TStart:     a.tStart,
		Duration:   a.duration,
		Events:     a.events,
		Rows:       a.rows,
	}
}

func Accumulate(key SpectrumKey, stream []ClassifiedEvent, ctx RunContext, tStart, duration float64) *SpectrumArray {
	acc := NewAccumulator(key.Rule, key.Channel, ctx, tStart, duration)
	for _, event := range stream {
		acc.Add(event)
	}
	return acc.Finish()
}
