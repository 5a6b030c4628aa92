package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	pixie "github.com/jmbenlloch/pixie_decoder/pkg"
)

var configuration pixie.Configuration

var (
	logger         pixie.ConsoleLogger
	VerbosityLevel int
)

func init() {
	logger = pixie.NewStdLogger()
}

func main() {
	configFilename := flag.String("config", "", "Configuration file path")
	fileIn := flag.String("in", "", "Capture series base path, or any file of the series")
	fileOut := flag.String("out", "", "Output HDF5 file")
	verbosity := flag.Int("v", -1, "Verbosity level (overrides the configuration)")
	flag.Parse()

	var err error
	configuration, err = pixie.LoadConfiguration(*configFilename)
	if err != nil {
		message := fmt.Errorf("Error reading configuration file: %w", err)
		logger.Error(message.Error())
		os.Exit(1)
	}
	if *fileIn != "" {
		configuration.FileIn = *fileIn
	}
	if *fileOut != "" {
		configuration.FileOut = *fileOut
	}
	if *verbosity >= 0 {
		configuration.Verbosity = *verbosity
	}
	pixie.SetLogger(logger)

	VerbosityLevel = configuration.Verbosity
	if VerbosityLevel > 0 {
		message := fmt.Sprintf("Reading configuration file: %s", *configFilename)
		logger.Info(message, "main")
		printConfiguration(configuration, logger)
	}

	if err := run(configuration); err != nil {
		logger.Error(diagnostic(err))
		os.Exit(1)
	}
}

// diagnostic prefixes the error with the stage that failed. The typed
// errors already carry the file and byte offset or line number.
func diagnostic(err error) string {
	var framing *pixie.FramingError
	var metadata *pixie.MetadataFormatError
	var config *pixie.ConfigurationError
	switch {
	case errors.As(err, &framing):
		return fmt.Sprintf("decode aborted: %v", err)
	case errors.As(err, &metadata):
		return fmt.Sprintf("metadata rejected: %v", err)
	case errors.As(err, &config):
		return fmt.Sprintf("configuration rejected: %v", err)
	}
	return err.Error()
}

func run(configuration pixie.Configuration) error {
	if err := configuration.Validate(); err != nil {
		return err
	}
	start := time.Now()

	base := pixie.SeriesBasename(configuration.FileIn)
	if configuration.FileOut == "" {
		configuration.FileOut = defaultOutput(strings.TrimRight(base, "-_."))
	}

	meta, err := pixie.ReadSeriesMetadata(base)
	if err != nil {
		return err
	}
	if VerbosityLevel > 0 {
		message := fmt.Sprintf("Run started %s, total %.1f s, %d descriptor files",
			meta.RunStart.Format(time.DateTime), meta.TotalTime, len(meta.Files))
		logger.Info(message, "main")
	}

	calibration, err := pixie.LoadCalibration(configuration, meta)
	if err != nil {
		return err
	}

	ctx, err := pixie.NewRunContext(configuration, meta, calibration)
	if err != nil {
		return err
	}
	if VerbosityLevel > 0 {
		logger.Info(fmt.Sprintf("Run ID: %s", ctx.RunID), "main")
	}

	events, tracker, err := pixie.DecodeSeries(base, ctx)
	if err != nil {
		return err
	}
	if tracker.Regressed > 0 {
		message := fmt.Sprintf("%d events with a timestamp before the previous one", tracker.Regressed)
		logger.Error(message)
	}

	streams := pixie.ClassifyAll(events, ctx)
	spectra, err := pixie.AccumulateAll(streams, tracker, ctx, configuration.NumWorkers)
	if err != nil {
		return err
	}

	input := pixie.StoreInput{
		Events:      events,
		Streams:     streams,
		Spectra:     spectra,
		WriteEvents: configuration.WriteEvents,
	}
	if err := pixie.WriteStore(configuration.FileOut, ctx, input, configuration.CompressionLevel); err != nil {
		return err
	}

	if configuration.AuditDB != "" {
		if err := recordAudit(configuration.AuditDB, ctx, tracker, streams, spectra); err != nil {
			return err
		}
	}
	if configuration.SpeDir != "" {
		if _, err := pixie.ExportSpe(configuration.SpeDir, base, ctx, spectra); err != nil {
			return err
		}
	}
	if configuration.PreviewDir != "" {
		if _, err := pixie.SavePreviews(configuration.PreviewDir, spectra, ctx); err != nil {
			return err
		}
	}
	if VerbosityLevel > 0 {
		logDetectionLimits(ctx, spectra)
	}

	duration := time.Since(start)
	message := fmt.Sprintf("%d events, %.1f s of data written to %s in %d ms",
		len(events), spectra.TotalDuration(), configuration.FileOut, duration.Milliseconds())
	logger.Info(message, "main")
	return nil
}

func recordAudit(filename string, ctx pixie.RunContext, tracker pixie.DurationTracker,
	streams map[pixie.SpectrumKey][]pixie.ClassifiedEvent, spectra *pixie.Spectra) error {
	audit, err := pixie.OpenAuditLog(filename)
	if err != nil {
		return err
	}
	defer audit.Close()
	return audit.Record(ctx, tracker, streams, spectra)
}

func logDetectionLimits(ctx pixie.RunContext, spectra *pixie.Spectra) {
	for _, channel := range pixie.OutputChannels {
		spectrum, ok := spectra.Get(pixie.Normal, channel)
		if !ok {
			continue
		}
		total := spectrum.Total()
		for _, marker := range ctx.Calibration.Markers(channel) {
			limit, err := pixie.ComputeDetectionLimit(total, marker)
			if err != nil {
				logger.Error(err.Error())
				continue
			}
			message := fmt.Sprintf("det%d %s (%s, %.1f keV): L_C %.1f, L_D %.1f",
				channel, marker.Name, marker.ZAID, marker.Energy, limit.Critical, limit.Detection)
			logger.Info(message, "limits")
		}
	}
}
