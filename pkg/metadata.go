package pixie

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Line positions (0-based) inside a .ifm descriptor. The acquisition
// software always writes the same layout.
const (
	ifmLineStart        = 1
	ifmLineTotal        = 6
	ifmLineLiveFirst    = 9
	ifmLineBufHeadLen   = 33
	ifmLineEventHeadLen = 34
	ifmLineChanHeadLen  = 35

	ifmStartColumn = 23
)

const ifmDateLayout = "3:04:05 PM Mon, Jan 2, 2006"

// The descriptor declares the wrong channel header length, the real
// value is always 2 words (trigger time, energy).
const ChannelHeaderLength = 2

const (
	MinBufferHeaderLength = 6
	MinEventHeaderLength  = 3
)

type CaptureRunMetadata struct {
	RunStart            time.Time
	TotalTime           float64
	LiveTime            [4]float64
	BufferHeaderLength  int
	EventHeaderLength   int
	ChannelHeaderLength int
	Files               []string
}

// ReadMetadata parses a single .ifm descriptor.
func ReadMetadata(filename string) (CaptureRunMetadata, error) {
	var meta CaptureRunMetadata

	lines, err := readLines(filename)
	if err != nil {
		return meta, err
	}

	meta.RunStart, err = parseStartTime(filename, lines)
	if err != nil {
		return meta, err
	}
	meta.TotalTime, err = parseFloatField(filename, lines, ifmLineTotal, 3)
	if err != nil {
		return meta, err
	}
	for channel := 0; channel < len(meta.LiveTime); channel++ {
		meta.LiveTime[channel], err = parseFloatField(filename, lines, ifmLineLiveFirst+channel, 2)
		if err != nil {
			return meta, err
		}
	}
	meta.BufferHeaderLength, err = parseIntField(filename, lines, ifmLineBufHeadLen, 1)
	if err != nil {
		return meta, err
	}
	meta.EventHeaderLength, err = parseIntField(filename, lines, ifmLineEventHeadLen, 1)
	if err != nil {
		return meta, err
	}

	if declared, err := parseIntField(filename, lines, ifmLineChanHeadLen, 1); err == nil && declared != ChannelHeaderLength {
		message := fmt.Sprintf("%s declares channel header length %d, using %d", filename, declared, ChannelHeaderLength)
		logger.Info(message, "metadata")
	}
	meta.ChannelHeaderLength = ChannelHeaderLength

	if meta.BufferHeaderLength < MinBufferHeaderLength {
		return meta, &MetadataFormatError{File: filename, Line: ifmLineBufHeadLen + 1,
			Err: fmt.Errorf("buffer header length %d is shorter than %d words", meta.BufferHeaderLength, MinBufferHeaderLength)}
	}
	if meta.EventHeaderLength < MinEventHeaderLength {
		return meta, &MetadataFormatError{File: filename, Line: ifmLineEventHeadLen + 1,
			Err: fmt.Errorf("event header length %d is shorter than %d words", meta.EventHeaderLength, MinEventHeaderLength)}
	}

	meta.Files = []string{filename}
	return meta, nil
}

// ReadSeriesMetadata reads every .ifm file of a numbered series. The run
// start comes from the first file, total and live times are summed, and all
// files must agree on the header lengths.
func ReadSeriesMetadata(base string) (CaptureRunMetadata, error) {
	paths := SeriesPaths(base, MetadataExt)
	if len(paths) == 0 {
		return CaptureRunMetadata{}, &ErrOpenFile{Filename: SeriesFile(base, 1, MetadataExt), Err: os.ErrNotExist}
	}

	var series CaptureRunMetadata
	for i, path := range paths {
		meta, err := ReadMetadata(path)
		if err != nil {
			return series, err
		}
		if i == 0 {
			series = meta
			continue
		}
		if meta.BufferHeaderLength != series.BufferHeaderLength {
			return series, &MetadataFormatError{File: path, Line: ifmLineBufHeadLen + 1,
				Err: fmt.Errorf("buffer header length %d differs from %d in %s", meta.BufferHeaderLength, series.BufferHeaderLength, paths[0])}
		}
		if meta.EventHeaderLength != series.EventHeaderLength {
			return series, &MetadataFormatError{File: path, Line: ifmLineEventHeadLen + 1,
				Err: fmt.Errorf("event header length %d differs from %d in %s", meta.EventHeaderLength, series.EventHeaderLength, paths[0])}
		}
		series.TotalTime += meta.TotalTime
		for channel := range series.LiveTime {
			series.LiveTime[channel] += meta.LiveTime[channel]
		}
		series.Files = append(series.Files, path)
	}

	if captures := SeriesPaths(base, BinaryExt); len(captures) != len(paths) {
		message := fmt.Sprintf("%s: %d %s files but %d %s files, total and live times cover only the descriptors found",
			base, len(paths), MetadataExt, len(captures), BinaryExt)
		logger.Error(message)
	}
	return series, nil
}

func readLines(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, &ErrOpenFile{Filename: filename, Err: err}
	}
	defer file.Close()

	lines := make([]string, 0, 40)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %q: %w", filename, err)
	}
	return lines, nil
}

func lineAt(filename string, lines []string, index int) (string, error) {
	if index >= len(lines) {
		return "", &MetadataFormatError{File: filename, Line: index + 1,
			Err: fmt.Errorf("file has only %d lines", len(lines))}
	}
	return lines[index], nil
}

func fieldAt(filename string, lines []string, index int, field int) (string, error) {
	line, err := lineAt(filename, lines, index)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(line)
	if field >= len(fields) {
		return "", &MetadataFormatError{File: filename, Line: index + 1,
			Err: fmt.Errorf("expected at least %d fields, found %d", field+1, len(fields))}
	}
	return fields[field], nil
}

func parseFloatField(filename string, lines []string, index int, field int) (float64, error) {
	s, err := fieldAt(filename, lines, index, field)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &MetadataFormatError{File: filename, Line: index + 1, Err: err}
	}
	return value, nil
}

func parseIntField(filename string, lines []string, index int, field int) (int, error) {
	s, err := fieldAt(filename, lines, index, field)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(s)
	if err != nil {
		return 0, &MetadataFormatError{File: filename, Line: index + 1, Err: err}
	}
	return value, nil
}

// The start line reads "<23 chars of label><time>" and may end with one
// trailing character (usually a period) after the year.
func parseStartTime(filename string, lines []string) (time.Time, error) {
	line, err := lineAt(filename, lines, ifmLineStart)
	if err != nil {
		return time.Time{}, err
	}
	if len(line) <= ifmStartColumn {
		return time.Time{}, &MetadataFormatError{File: filename, Line: ifmLineStart + 1,
			Err: errors.New("start time line is too short")}
	}
	dateStr := strings.TrimSpace(line[ifmStartColumn:])
	start, err := time.Parse(ifmDateLayout, dateStr)
	if err == nil {
		return start, nil
	}
	if len(dateStr) > 1 {
		if start, errTrim := time.Parse(ifmDateLayout, strings.TrimSpace(dateStr[:len(dateStr)-1])); errTrim == nil {
			return start, nil
		}
	}
	return time.Time{}, &MetadataFormatError{File: filename, Line: ifmLineStart + 1, Err: err}
}
