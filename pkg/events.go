package pixie

import (
	"fmt"
	"math"
)

// Channels 0-2 carry energies, channel 3 is flagged in the hit pattern but
// its payload is discarded.
const (
	NumChannels      = 3
	NumPatternBits   = 4
	ReferenceChannel = 0
	NoEnergy         = -1
)

type ChannelState uint8

const (
	NotFired ChannelState = iota
	Fired
	OverRange
)

func (s ChannelState) String() string {
	switch s {
	case NotFired:
		return "NotFired"
	case Fired:
		return "Fired"
	case OverRange:
		return "OverRange"
	default:
		return "Unknown"
	}
}

type ChannelHit struct {
	State     ChannelState
	Energy    uint16
	TriggerNs float64
}

// Asserted reports whether the hit pattern flagged the channel, whatever
// its energy. Timing gates use this.
func (h ChannelHit) Asserted() bool {
	return h.State != NotFired
}

// Valid reports whether the channel carries an energy usable as a bin.
func (h ChannelHit) Valid() bool {
	return h.State == Fired
}

// Sentinel is the stored form of the energy: the value itself, or -1 when
// the channel did not fire or went over range.
func (h ChannelHit) Sentinel() int32 {
	if h.Valid() {
		return int32(h.Energy)
	}
	return NoEnergy
}

func notFired() ChannelHit {
	return ChannelHit{State: NotFired, TriggerNs: math.NaN()}
}

type GammaEvent struct {
	Channels   [NumChannels]ChannelHit
	HitPattern uint8
	DeltaT01   float64
	DeltaT02   float64
	DeltaT12   float64
	Timestamp  float64
}

func (e GammaEvent) String() string {
	return fmt.Sprintf("pattern=%04b energies=(%d,%d,%d) dT=(%g,%g,%g) t=%f",
		e.HitPattern, e.Channels[0].Sentinel(), e.Channels[1].Sentinel(), e.Channels[2].Sentinel(),
		e.DeltaT01, e.DeltaT02, e.DeltaT12, e.Timestamp)
}

// Delta returns the absolute trigger time difference between two channels,
// NaN when either did not fire.
func (e GammaEvent) Delta(a, b int) float64 {
	switch {
	case a == b:
		return 0
	case a > b:
		a, b = b, a
	}
	switch {
	case a == 0 && b == 1:
		return e.DeltaT01
	case a == 0 && b == 2:
		return e.DeltaT02
	case a == 1 && b == 2:
		return e.DeltaT12
	}
	return math.NaN()
}

// math.Abs keeps NaN, so a channel that did not fire poisons every delta
// it takes part in.
func (e *GammaEvent) computeDeltas() {
	e.DeltaT01 = math.Abs(e.Channels[0].TriggerNs - e.Channels[1].TriggerNs)
	e.DeltaT02 = math.Abs(e.Channels[0].TriggerNs - e.Channels[2].TriggerNs)
	e.DeltaT12 = math.Abs(e.Channels[1].TriggerNs - e.Channels[2].TriggerNs)
}

// DurationTracker follows the run clock across the decode: the first event
// is the time origin of every chunked spectrum.
type DurationTracker struct {
	TStart    float64
	TFinal    float64
	Count     int
	Regressed int
	started   bool
}

func (d *DurationTracker) Observe(event GammaEvent) {
	if !d.started {
		d.TStart = event.Timestamp
		d.TFinal = event.Timestamp
		d.started = true
		d.Count++
		return
	}
	if event.Timestamp < d.TFinal {
		d.Regressed++
		// Only the first one is logged, callers report the total from Regressed
		if d.Regressed == 1 {
			message := fmt.Sprintf("event %d timestamp %f is before previous %f", d.Count, event.Timestamp, d.TFinal)
			logger.Error(message)
		}
	} else {
		d.TFinal = event.Timestamp
	}
	d.Count++
}

func (d *DurationTracker) Started() bool {
	return d.started
}

func (d *DurationTracker) Duration() float64 {
	if !d.started {
		return 0
	}
	return d.TFinal - d.TStart
}
