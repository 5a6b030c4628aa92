package pixie

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

var floatOpts = cmp.Options{
	cmpopts.EquateNaNs(),
	cmpopts.EquateApprox(0, 1e-9),
	cmp.AllowUnexported(DurationTracker{}),
}

// testChannel is the (trigger, energy) pair of a channel header.
type testChannel struct {
	trigger uint16
	energy  uint16
}

type testEvent struct {
	pattern  uint16
	timeHigh uint16
	timeLow  uint16
	channels map[int]testChannel
}

type testBuffer struct {
	module   uint16
	timeHigh uint16
	timeMid  uint16
	timeLow  uint16
	events   []testEvent
}

type captureLayout struct {
	bufferHeaderLength int
	eventHeaderLength  int
}

var defaultLayout = captureLayout{bufferHeaderLength: 6, eventHeaderLength: 3}

func (l captureLayout) encodeEvent(ev testEvent) []uint16 {
	words := []uint16{ev.pattern, ev.timeHigh, ev.timeLow}
	for len(words) < l.eventHeaderLength {
		words = append(words, 0xBEEF)
	}
	for channel := 0; channel < NumPatternBits; channel++ {
		if ev.pattern&(1<<channel) == 0 {
			continue
		}
		ch := ev.channels[channel]
		words = append(words, ch.trigger, ch.energy)
	}
	return words
}

func (l captureLayout) encodeBuffer(buf testBuffer) []uint16 {
	payload := make([]uint16, 0)
	for _, ev := range buf.events {
		payload = append(payload, l.encodeEvent(ev)...)
	}
	header := []uint16{0, buf.module, 0x2103, buf.timeHigh, buf.timeMid, buf.timeLow}
	for len(header) < l.bufferHeaderLength {
		header = append(header, 0xCAFE)
	}
	header[0] = uint16(len(header) + len(payload))
	return append(header, payload...)
}

func (l captureLayout) encodeFile(buffers ...testBuffer) []byte {
	words := make([]uint16, 0)
	for _, buf := range buffers {
		words = append(words, l.encodeBuffer(buf)...)
	}
	return wordsToBytes(words)
}

func wordsToBytes(words []uint16) []byte {
	data := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(data[2*i:], w)
	}
	return data
}

func testContext() RunContext {
	return RunContext{
		EnergyMax:   DefaultEnergyMax,
		ShortWindow: DefaultShortWindow,
		ChunkWidth:  DefaultChunkWidth,
		TickNs:      DefaultTickNs,
		Metadata: CaptureRunMetadata{
			BufferHeaderLength:  6,
			EventHeaderLength:   3,
			ChannelHeaderLength: ChannelHeaderLength,
		},
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// writeSeries writes <dir>/<name>0001.bin, 0002.bin... and returns the base.
func writeSeries(t *testing.T, dir string, name string, files ...[]byte) string {
	t.Helper()
	base := filepath.Join(dir, name)
	for i, data := range files {
		writeFile(t, SeriesFile(base, i+1, BinaryExt), data)
	}
	return base
}

type ifmFields struct {
	start      string
	total      float64
	live       [4]float64
	bufferLen  int
	eventLen   int
	channelLen int
	truncateAt int
}

func defaultIfm() ifmFields {
	return ifmFields{
		start:      "10:15:30 AM Tue, Mar 5, 2019",
		total:      120.5,
		live:       [4]float64{100.25, 110.5, 111.75, 0},
		bufferLen:  6,
		eventLen:   3,
		channelLen: 4,
	}
}

// ifmText renders a descriptor with the same line layout as the ones the
// acquisition writes.
func ifmText(f ifmFields) string {
	lines := make([]string, 36)
	for i := range lines {
		lines[i] = fmt.Sprintf("# line %d", i)
	}
	lines[0] = "PIXIE list mode run"
	lines[1] = "Acquisition started at " + f.start
	lines[6] = fmt.Sprintf("Total run time: %g", f.total)
	for c := 0; c < 4; c++ {
		lines[9+c] = fmt.Sprintf("Live time%d: %g", c, f.live[c])
	}
	lines[33] = fmt.Sprintf("BUF_HEAD_LEN %d", f.bufferLen)
	lines[34] = fmt.Sprintf("EVENT_HEAD_LEN %d", f.eventLen)
	lines[35] = fmt.Sprintf("CHAN_HEAD_LEN %d", f.channelLen)
	if f.truncateAt > 0 {
		lines = lines[:f.truncateAt]
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func writeIfm(t *testing.T, path string, f ifmFields) {
	t.Helper()
	writeFile(t, path, []byte(ifmText(f)))
}

func fired(energy uint16, triggerNs float64) ChannelHit {
	return ChannelHit{State: Fired, Energy: energy, TriggerNs: triggerNs}
}

func overRange(energy uint16, triggerNs float64) ChannelHit {
	return ChannelHit{State: OverRange, Energy: energy, TriggerNs: triggerNs}
}

// makeEvent builds a decoded event from its channel hits; channels absent
// from hits did not fire.
func makeEvent(timestamp float64, hits map[int]ChannelHit) GammaEvent {
	event := GammaEvent{Timestamp: timestamp}
	for channel := 0; channel < NumChannels; channel++ {
		hit, ok := hits[channel]
		if !ok {
			event.Channels[channel] = notFired()
			continue
		}
		event.Channels[channel] = hit
		event.HitPattern |= 1 << channel
	}
	event.computeDeltas()
	return event
}

func histogramOf(stream []ClassifiedEvent, energyMax int) []int32 {
	hist := make([]int32, energyMax+1)
	for _, event := range stream {
		hist[event.Energy]++
	}
	return hist
}

func triggerNs(timeHigh, trigger uint16) float64 {
	return (float64(timeHigh)*ClockRollover + float64(trigger)) * DefaultTickNs
}

func timestampOf(bufferHigh, timeHigh, timeLow uint16) float64 {
	clock := float64(bufferHigh)*ClockRollover*ClockRollover + float64(timeHigh)*ClockRollover + float64(timeLow)
	return clock * DefaultTickNs * 1e-9
}

var nan = math.NaN()
