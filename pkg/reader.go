package pixie

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

const readBufferSize = 1 << 16

// BufferReader decodes the list-mode events of one capture file. It reads
// forward only: every call to Next consumes bytes, and io.EOF marks the end
// of the file.
type BufferReader struct {
	reader    *bufio.Reader
	closer    io.Closer
	Filename  string
	ctx       RunContext
	offset    int64
	bufferEnd int64
	buffer    BufferHeader
	inBuffer  bool
	BufCount  int
	EvtCount  int
	scratch   []byte
}

func NewBufferReader(r io.Reader, filename string, ctx RunContext) *BufferReader {
	return &BufferReader{
		reader:   bufio.NewReaderSize(r, readBufferSize),
		Filename: filename,
		ctx:      ctx,
		scratch:  make([]byte, 0, 64),
	}
}

func OpenBufferReader(filename string, ctx RunContext) (*BufferReader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, &ErrOpenFile{Filename: filename, Err: err}
	}
	r := NewBufferReader(file, filename, ctx)
	r.closer = file
	return r, nil
}

func (r *BufferReader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Offset is the number of bytes consumed so far.
func (r *BufferReader) Offset() int64 {
	return r.offset
}

// Buffer returns the header of the buffer being decoded.
func (r *BufferReader) Buffer() BufferHeader {
	return r.buffer
}

func (r *BufferReader) Next() (GammaEvent, error) {
	for !r.inBuffer || r.offset >= r.bufferEnd {
		if err := r.nextBuffer(); err != nil {
			return GammaEvent{}, err
		}
	}
	return r.readEvent()
}

// readWords reads n little-endian words. A short read is a framing error
// attributed to the record starting at the current offset.
func (r *BufferReader) readWords(n int, record string) ([]uint16, error) {
	size := 2 * n
	if cap(r.scratch) < size {
		r.scratch = make([]byte, size)
	}
	data := r.scratch[:size]
	start := r.offset
	nRead, err := io.ReadFull(r.reader, data)
	r.offset += int64(nRead)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &FramingError{File: r.Filename, Offset: start, Record: record, Err: err}
	}
	return bytesToWords(data), nil
}

func (r *BufferReader) nextBuffer() error {
	var wordCount [2]byte
	bufferStart := r.offset
	nRead, err := io.ReadFull(r.reader, wordCount[:])
	r.offset += int64(nRead)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if nRead > 0 {
				message := fmt.Sprintf("%s: ignoring %d trailing byte at offset %d", r.Filename, nRead, bufferStart)
				logger.Info(message, "reader")
			}
			r.inBuffer = false
			return io.EOF
		}
		return fmt.Errorf("error reading %q at byte %d: %w", r.Filename, bufferStart, err)
	}

	headerLength := r.ctx.Metadata.BufferHeaderLength
	rest, err := r.readWords(headerLength-1, "buffer header")
	if err != nil {
		return err
	}
	words := make([]uint16, 0, headerLength)
	words = append(words, uint16(wordCount[0])|uint16(wordCount[1])<<8)
	words = append(words, rest...)
	r.buffer = readBufferHeader(words, r.ctx.Verbosity)

	if int(r.buffer.WordCount) < headerLength {
		return &FramingError{File: r.Filename, Offset: bufferStart, Record: "buffer header",
			Err: fmt.Errorf("buffer declares %d words, header alone has %d", r.buffer.WordCount, headerLength)}
	}
	r.bufferEnd = bufferStart + 2*int64(r.buffer.WordCount)
	r.inBuffer = true
	r.BufCount++
	return nil
}

// checkExtent fails when the next n words of the event starting at
// eventStart would run past the end of the current buffer.
func (r *BufferReader) checkExtent(eventStart int64, n int) error {
	if r.offset+2*int64(n) <= r.bufferEnd {
		return nil
	}
	return &FramingError{File: r.Filename, Offset: eventStart, Record: "event",
		Err: fmt.Errorf("event overruns buffer ending at byte %d", r.bufferEnd)}
}

func (r *BufferReader) readEvent() (GammaEvent, error) {
	eventStart := r.offset
	if err := r.checkExtent(eventStart, r.ctx.Metadata.EventHeaderLength); err != nil {
		return GammaEvent{}, err
	}
	words, err := r.readWords(r.ctx.Metadata.EventHeaderLength, "event header")
	if err != nil {
		return GammaEvent{}, err
	}
	header := readEventHeader(words, r.ctx.Verbosity)

	event := GammaEvent{HitPattern: header.Pattern()}
	for channel := 0; channel < NumChannels; channel++ {
		event.Channels[channel] = notFired()
	}

	for channel := 0; channel < NumPatternBits; channel++ {
		if !header.ChannelHit(channel) {
			continue
		}
		if err := r.checkExtent(eventStart, ChannelHeaderLength); err != nil {
			return GammaEvent{}, err
		}
		record := fmt.Sprintf("channel %d header", channel)
		words, err := r.readWords(ChannelHeaderLength, record)
		if err != nil {
			return GammaEvent{}, err
		}
		if channel >= NumChannels {
			continue
		}
		chHeader := readChannelHeader(words)
		event.Channels[channel] = r.channelHit(header, chHeader, channel)
	}
	event.computeDeltas()
	event.Timestamp = float64(header.Clock(r.buffer)) * r.ctx.TickNs * 1e-9

	if r.ctx.Verbosity > 2 {
		message := fmt.Sprintf("Event %d: %v", r.EvtCount, event)
		logger.Info(message, "reader")
	}
	r.EvtCount++
	return event, nil
}

func (r *BufferReader) channelHit(header EventHeader, chHeader ChannelHeader, channel int) ChannelHit {
	trigger := (float64(header.TimeHigh)*ClockRollover + float64(chHeader.TriggerTime)) * r.ctx.TickNs
	hit := ChannelHit{
		State:     Fired,
		Energy:    chHeader.Energy,
		TriggerNs: trigger,
	}
	// Channel 0 only vetoes or confirms coincidences, it is never binned
	if channel != ReferenceChannel && int(chHeader.Energy) > r.ctx.EnergyMax {
		hit.State = OverRange
	}
	return hit
}

// SeriesReader chains the capture files of a numbered series. The series
// ends at the first missing file.
type SeriesReader struct {
	Base      string
	ctx       RunContext
	counter   int
	current   *BufferReader
	FilesRead []string
	EvtCount  int
}

func NewSeriesReader(base string, ctx RunContext) *SeriesReader {
	return &SeriesReader{
		Base:      base,
		ctx:       ctx,
		counter:   1,
		FilesRead: make([]string, 0),
	}
}

func (s *SeriesReader) Next() (GammaEvent, error) {
	for {
		if s.current == nil {
			filename := SeriesFile(s.Base, s.counter, BinaryExt)
			if !seriesFileExists(s.Base, s.counter, BinaryExt) {
				return GammaEvent{}, io.EOF
			}
			current, err := OpenBufferReader(filename, s.ctx)
			if err != nil {
				return GammaEvent{}, err
			}
			if s.ctx.Verbosity > 0 {
				logger.Info(fmt.Sprintf("Working on %s", filename), "reader")
			}
			s.current = current
			s.FilesRead = append(s.FilesRead, filename)
		}

		event, err := s.current.Next()
		if err == nil {
			s.EvtCount++
			return event, nil
		}
		if !errors.Is(err, io.EOF) {
			s.current.Close()
			s.current = nil
			return GammaEvent{}, err
		}
		if s.ctx.Verbosity > 0 {
			message := fmt.Sprintf("%s: %d buffers, %d events", s.current.Filename, s.current.BufCount, s.current.EvtCount)
			logger.Info(message, "reader")
		}
		if err := s.current.Close(); err != nil {
			logger.Error(fmt.Errorf("error closing %q: %w", s.current.Filename, err).Error())
		}
		s.current = nil
		s.counter++
	}
}

func (s *SeriesReader) Close() error {
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

// DecodeSeries reads a whole series into memory. The events are kept so
// the per-(rule, channel) spectra can be built in parallel afterwards.
func DecodeSeries(base string, ctx RunContext) ([]GammaEvent, DurationTracker, error) {
	reader := NewSeriesReader(base, ctx)
	defer reader.Close()

	var tracker DurationTracker
	events := make([]GammaEvent, 0, 1024)
	for {
		event, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return events, tracker, err
		}
		tracker.Observe(event)
		events = append(events, event)
	}
	if len(reader.FilesRead) == 0 {
		return events, tracker, &ErrOpenFile{Filename: SeriesFile(base, 1, BinaryExt), Err: os.ErrNotExist}
	}
	if ctx.Verbosity > 0 {
		message := fmt.Sprintf("Decoded %d events from %d files, run duration %.3f s",
			len(events), len(reader.FilesRead), tracker.Duration())
		logger.Info(message, "reader")
	}
	return events, tracker, nil
}
