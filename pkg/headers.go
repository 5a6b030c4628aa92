package pixie

import (
	"encoding/binary"
	"fmt"
)

// The PIXIE clock words roll over at 64000, so three 16-bit words make a
// 48-bit counter: high*64000^2 + mid*64000 + low.
const ClockRollover = 64000

type BufferHeader struct {
	WordCount    uint16
	ModuleNumber uint16
	Format       uint16
	TimeHigh     uint16
	TimeMid      uint16
	TimeLow      uint16
}

// Clock is the buffer start time in clock ticks.
func (b BufferHeader) Clock() uint64 {
	return uint64(b.TimeHigh)*ClockRollover*ClockRollover + uint64(b.TimeMid)*ClockRollover + uint64(b.TimeLow)
}

type EventHeader struct {
	HitPattern uint16
	TimeHigh   uint16
	TimeLow    uint16
}

// Pattern returns the 4 channel bits of the hit pattern word. Bit c set
// means channel c triggered.
func (e EventHeader) Pattern() uint8 {
	return uint8(e.HitPattern & 0x000F)
}

// ChannelHit reports whether the hit pattern flags channel c.
func (e EventHeader) ChannelHit(channel int) bool {
	return CheckBit(uint16(e.Pattern()), uint16(channel))
}

func CheckBit(word uint16, bit uint16) bool {
	return (word>>bit)&0x1 == 1
}

// Clock is the composite event time in ticks: buffer high word plus the
// event high/low words.
func (e EventHeader) Clock(buffer BufferHeader) uint64 {
	return uint64(buffer.TimeHigh)*ClockRollover*ClockRollover + uint64(e.TimeHigh)*ClockRollover + uint64(e.TimeLow)
}

type ChannelHeader struct {
	TriggerTime uint16
	Energy      uint16
}

func bytesToWords(data []byte) []uint16 {
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return words
}

func readBufferHeader(data []uint16, verbosity int) BufferHeader {
	position := 0
	header := BufferHeader{}

	header.WordCount = data[position]
	position++
	header.ModuleNumber = data[position]
	position++
	header.Format = data[position]
	position++
	header.TimeHigh = data[position]
	position++
	header.TimeMid = data[position]
	position++
	header.TimeLow = data[position]
	position++

	if verbosity > 1 {
		message := fmt.Sprintf("Buffer: words %d, module %d, format 0x%04x, time %d/%d/%d",
			header.WordCount, header.ModuleNumber, header.Format, header.TimeHigh, header.TimeMid, header.TimeLow)
		logger.Info(message, "headers")
	}
	if verbosity > 1 && position < len(data) {
		message := fmt.Sprintf("Buffer header has %d extra words", len(data)-position)
		logger.Info(message, "headers")
	}
	return header
}

func readEventHeader(data []uint16, verbosity int) EventHeader {
	position := 0
	header := EventHeader{}

	header.HitPattern = data[position]
	position++
	header.TimeHigh = data[position]
	position++
	header.TimeLow = data[position]
	position++

	if verbosity > 2 {
		message := fmt.Sprintf("Event: pattern %04b, time %d/%d", header.Pattern(), header.TimeHigh, header.TimeLow)
		logger.Info(message, "headers")
	}
	return header
}

func readChannelHeader(data []uint16) ChannelHeader {
	return ChannelHeader{
		TriggerTime: data[0],
		Energy:      data[1],
	}
}
