package pixie

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var ruleColors = map[Rule]color.RGBA{
	Normal:     {R: 31, G: 119, B: 180, A: 255},
	Compton:    {R: 214, G: 39, B: 40, A: 255},
	GammaGamma: {R: 44, G: 160, B: 44, A: 255},
}

// spectrumPoints pairs the whole-run counts with the energy axis.
func spectrumPoints(counts []int32, axis []float64) plotter.XYs {
	n := min(len(counts), len(axis))
	pts := make(plotter.XYs, 0, n)
	for i := 0; i < n; i++ {
		pts = append(pts, plotter.XY{X: axis[i], Y: float64(counts[i])})
	}
	return pts
}

// PreviewSpectrum plots the three rules of one channel on the same axes.
func PreviewSpectrum(spectra *Spectra, ctx RunContext, channel int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Detector %d - whole run (%.0f s)", channel, spectra.TotalDuration())
	if _, ok := ctx.Calibration.Fit(channel); ok {
		p.X.Label.Text = "Energy (keV)"
	} else {
		p.X.Label.Text = "Channel"
	}
	p.Y.Label.Text = "Counts"

	axis := ctx.Calibration.EnergyAxis(channel, ctx.EnergyMax)
	for _, rule := range Rules {
		spectrum, ok := spectra.Get(rule, channel)
		if !ok {
			continue
		}
		line, err := plotter.NewLine(spectrumPoints(spectrum.Total(), axis))
		if err != nil {
			return nil, fmt.Errorf("error plotting %s%d: %w", rule.Code(), channel, err)
		}
		line.Color = ruleColors[rule]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(rule.String(), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SavePreviews writes det<c>_spectrum.png for every output channel.
func SavePreviews(dir string, spectra *Spectra, ctx RunContext) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating %q: %w", dir, err)
	}
	written := make([]string, 0, len(OutputChannels))
	for _, channel := range OutputChannels {
		p, err := PreviewSpectrum(spectra, ctx, channel)
		if err != nil {
			return written, err
		}
		filename := filepath.Join(dir, fmt.Sprintf("det%d_spectrum.png", channel))
		if err := p.Save(10*vg.Inch, 5*vg.Inch, filename); err != nil {
			return written, fmt.Errorf("error saving %q: %w", filename, err)
		}
		written = append(written, filename)
		if ctx.Verbosity > 0 {
			logger.Info(fmt.Sprintf("Written %s", filename), "preview")
		}
	}
	return written, nil
}
