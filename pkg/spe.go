package pixie

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const speFieldWidth = 8

// SpeSpectrum is one ORTEC .Spe file: the whole-run histogram of a
// (rule, channel) with the run timing and the channel calibration.
type SpeSpectrum struct {
	Series     string
	Key        SpectrumKey
	Meta       CaptureRunMetadata
	Counts     []int32
	EnergyMax  int
	Fit        ChannelFit
	Calibrated bool
	ROIs       [][2]int
}

func formatCoefficients(values []float64) string {
	fields := make([]string, len(values))
	for i, v := range values {
		fields[i] = strconv.FormatFloat(v, 'E', 6, 64)
	}
	return strings.Join(fields, " ")
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// WriteSpe writes the spectrum in the ORTEC .Spe text format. Lines end
// with CRLF and the counts are right aligned on 8 columns.
func WriteSpe(out io.Writer, spe SpeSpectrum) error {
	w := bufio.NewWriter(out)
	line := func(s string) {
		w.WriteString(s)
		w.WriteString("\r\n")
	}

	line("$SPEC_ID:")
	line(fmt.Sprintf("PIXIE %s [%s]", spe.Series, spe.Key))
	line("$SPEC_REM:")
	line(fmt.Sprintf("DET# %d", spe.Key.Channel))
	line("DETDESC# PIXIE")
	line(fmt.Sprintf("RULE# %s", spe.Key.Rule))
	line("$DATE_MEA:")
	line(spe.Meta.RunStart.Format("01/02/2006 15:04:05"))
	line("$MEAS_TIM:")
	live := 0.0
	if spe.Key.Channel >= 0 && spe.Key.Channel < len(spe.Meta.LiveTime) {
		live = spe.Meta.LiveTime[spe.Key.Channel]
	}
	line(fmt.Sprintf("%d %d", int(live), int(spe.Meta.TotalTime)))

	line("$DATA:")
	line(fmt.Sprintf("0 %d", spe.EnergyMax-1))
	for bin := 0; bin < spe.EnergyMax; bin++ {
		var count int32
		if bin < len(spe.Counts) {
			count = spe.Counts[bin]
		}
		line(fmt.Sprintf("%*d", speFieldWidth, count))
	}

	line("$ROI:")
	line(strconv.Itoa(len(spe.ROIs)))
	for _, roi := range spe.ROIs {
		line(fmt.Sprintf("%d %d", roi[0], roi[1]))
	}
	line("$PRESETS:")
	line("None")
	line("0")
	line("0")

	if spe.Calibrated {
		line("$ENER_FIT:")
		line(formatCoefficients(spe.Fit.EnergyFit[:]))
		line("$MCA_CAL:")
		if spe.Fit.McaCal != "" {
			line(crlf(strings.TrimSpace(spe.Fit.McaCal)))
		} else {
			line("2")
			line(formatCoefficients(spe.Fit.EnergyFit[:]) + " keV")
		}
		line("$SHAPE_CAL:")
		line("3")
		line(formatCoefficients(spe.Fit.FwhmFit[:]))
	}
	return w.Flush()
}

// SpeFilename is <series>_<code><channel>.Spe, e.g. run_compt1.Spe.
func SpeFilename(dir string, series string, key SpectrumKey) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.Spe", filepath.Base(series), key))
}

// ExportSpe writes one .Spe file per spectrum of the run and returns the
// written paths.
func ExportSpe(dir string, series string, ctx RunContext, spectra *Spectra) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating %q: %w", dir, err)
	}
	written := make([]string, 0, len(SpectrumKeys()))
	for _, key := range SpectrumKeys() {
		spectrum, ok := spectra.Get(key.Rule, key.Channel)
		if !ok {
			continue
		}
		fit, calibrated := ctx.Calibration.Fit(key.Channel)
		spe := SpeSpectrum{
			Series:     filepath.Base(series),
			Key:        key,
			Meta:       ctx.Metadata,
			Counts:     spectrum.Total(),
			EnergyMax:  ctx.EnergyMax,
			Fit:        fit,
			Calibrated: calibrated,
		}
		for _, marker := range ctx.Calibration.Markers(key.Channel) {
			spe.ROIs = append(spe.ROIs, [2]int{marker.LM, marker.RM})
		}

		filename := SpeFilename(dir, series, key)
		file, err := os.Create(filename)
		if err != nil {
			return written, &ErrOpenFile{Filename: filename, Err: err}
		}
		err = WriteSpe(file, spe)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return written, fmt.Errorf("error writing %q: %w", filename, err)
		}
		written = append(written, filename)
		if ctx.Verbosity > 0 {
			logger.Info(fmt.Sprintf("Written %s", filename), "spe")
		}
	}
	return written, nil
}
