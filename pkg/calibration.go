package pixie

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// ChannelFit is the calibration of one detector channel: a linear energy
// fit E = a0 + a1*bin and a quadratic FWHM fit w = f0 + f1*c + f2*c^2.
type ChannelFit struct {
	Channel   int
	EnergyFit [2]float64
	FwhmFit   [3]float64
	McaCal    string
}

func (f ChannelFit) Energy(bin float64) float64 {
	return f.EnergyFit[0] + f.EnergyFit[1]*bin
}

// Bin is the inverse of Energy, the centroid channel of a line.
func (f ChannelFit) Bin(energy float64) float64 {
	return (energy - f.EnergyFit[0]) / f.EnergyFit[1]
}

func (f ChannelFit) Fwhm(bin float64) float64 {
	return f.FwhmFit[0] + f.FwhmFit[1]*bin + f.FwhmFit[2]*bin*bin
}

// Signature is one gamma line of the signature library.
type Signature struct {
	ZAID   string
	Name   string
	Energy float64
}

// SignatureMarker is the [LM, RM] channel window of a signature on a given
// detector.
type SignatureMarker struct {
	Signature
	Channel int
	LM      int
	RM      int
}

type Calibration struct {
	Channels map[int]ChannelFit
	Library  []Signature
}

func (c Calibration) Fit(channel int) (ChannelFit, bool) {
	fit, ok := c.Channels[channel]
	return fit, ok
}

// CalibratedChannels returns the calibrated channels in increasing order.
func (c Calibration) CalibratedChannels() []int {
	channels := make([]int, 0, len(c.Channels))
	for channel := range c.Channels {
		channels = append(channels, channel)
	}
	slices.Sort(channels)
	return channels
}

// EnergyAxis maps every bin 0..energyMax to keV. Without a calibration for
// the channel the axis is the bin number itself.
func (c Calibration) EnergyAxis(channel int, energyMax int) []float64 {
	axis := make([]float64, energyMax+1)
	fit, ok := c.Fit(channel)
	for i := range axis {
		if ok {
			axis[i] = fit.Energy(float64(i))
		} else {
			axis[i] = float64(i)
		}
	}
	return axis
}

// Markers places every library line on the channel, LM/RM = round(c -/+ 1.75w).
func (c Calibration) Markers(channel int) []SignatureMarker {
	fit, ok := c.Fit(channel)
	if !ok {
		return nil
	}
	markers := make([]SignatureMarker, 0, len(c.Library))
	for _, signature := range c.Library {
		centroid := fit.Bin(signature.Energy)
		width := fit.Fwhm(centroid)
		markers = append(markers, SignatureMarker{
			Signature: signature,
			Channel:   channel,
			LM:        int(math.Round(centroid - 1.75*width)),
			RM:        int(math.Round(centroid + 1.75*width)),
		})
	}
	return markers
}

// parseCoefficients reads whitespace separated floats. The MCA exports
// prefix some fits with the number of terms on its own line, which callers
// strip before.
func parseCoefficients(text string, n int) ([]float64, error) {
	fields := strings.Fields(text)
	if len(fields) < n {
		return nil, fmt.Errorf("expected %d coefficients, got %d in %q", n, len(fields), text)
	}
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		value, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coefficient %q: %w", fields[i], err)
		}
		values[i] = value
	}
	return values, nil
}

func NewChannelFit(channel int, cal ChannelCalibration) (ChannelFit, error) {
	fit := ChannelFit{Channel: channel, McaCal: cal.McaCal}
	energy, err := parseCoefficients(cal.EnergyFit, 2)
	if err != nil {
		return fit, fmt.Errorf("channel %d energy fit: %w", channel, err)
	}
	if energy[1] == 0 {
		return fit, fmt.Errorf("channel %d energy fit: zero gain", channel)
	}
	copy(fit.EnergyFit[:], energy)

	fwhm, err := parseCoefficients(cal.FwhmFit, 3)
	if err != nil {
		return fit, fmt.Errorf("channel %d fwhm fit: %w", channel, err)
	}
	copy(fit.FwhmFit[:], fwhm)
	return fit, nil
}

// NewCalibration parses the per-channel calibration strings of the
// configuration. Channels with an empty energy fit are left uncalibrated.
func NewCalibration(config map[string]ChannelCalibration) (Calibration, error) {
	calibration := Calibration{Channels: make(map[int]ChannelFit)}
	for key, cal := range config {
		channel, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return calibration, &ConfigurationError{Field: "calibration", Reason: fmt.Sprintf("invalid channel %q", key)}
		}
		if strings.TrimSpace(cal.EnergyFit) == "" {
			continue
		}
		fit, err := NewChannelFit(channel, cal)
		if err != nil {
			return calibration, &ConfigurationError{Field: "calibration", Reason: err.Error()}
		}
		calibration.Channels[channel] = fit
	}
	return calibration, nil
}

// LoadSignatureLibrary reads a "ZAID name energy" file, one line per
// signature. Blank lines and lines starting with # are skipped.
func LoadSignatureLibrary(filename string) ([]Signature, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, &ErrOpenFile{Filename: filename, Err: err}
	}
	defer file.Close()

	library := make([]Signature, 0)
	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, &MetadataFormatError{File: filename, Line: lineNumber,
				Err: fmt.Errorf("expected ZAID, name and energy, got %d fields", len(fields))}
		}
		energy, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, &MetadataFormatError{File: filename, Line: lineNumber, Err: err}
		}
		library = append(library, Signature{ZAID: fields[0], Name: fields[1], Energy: energy})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %q: %w", filename, err)
	}
	return library, nil
}

// DetectionLimit holds the Currie critical level and detection limit of a
// signature window at 95% confidence.
type DetectionLimit struct {
	Background float64
	Critical   float64
	Detection  float64
}

const markerAverageHalfWidth = 3

func windowAverage(hist []int32, center int) (float64, error) {
	lo := center - markerAverageHalfWidth
	hi := center + markerAverageHalfWidth
	if lo < 0 || hi >= len(hist) {
		return 0, fmt.Errorf("marker %d too close to the histogram edge", center)
	}
	var sum float64
	for _, count := range hist[lo : hi+1] {
		sum += float64(count)
	}
	return sum / float64(hi-lo+1), nil
}

// ComputeDetectionLimit estimates the background under [LM, RM] from the
// counts around both markers.
func ComputeDetectionLimit(hist []int32, marker SignatureMarker) (DetectionLimit, error) {
	if marker.RM < marker.LM {
		return DetectionLimit{}, fmt.Errorf("%s: right marker %d before left marker %d", marker.Name, marker.RM, marker.LM)
	}
	lmAvg, err := windowAverage(hist, marker.LM)
	if err != nil {
		return DetectionLimit{}, fmt.Errorf("%s: %w", marker.Name, err)
	}
	rmAvg, err := windowAverage(hist, marker.RM)
	if err != nil {
		return DetectionLimit{}, fmt.Errorf("%s: %w", marker.Name, err)
	}
	nChannels := float64(marker.RM - marker.LM + 1)
	background := nChannels * (lmAvg + rmAvg) * 0.5
	root := math.Sqrt(background)
	return DetectionLimit{
		Background: background,
		Critical:   2.325 * root,
		Detection:  2.706 + 4.653*root,
	}, nil
}
