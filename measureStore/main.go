package main

import (
	"flag"
	"fmt"
	"os"
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

type measurement struct {
	CompressionLevel int
	Repetition       int
	Duration         time.Duration
	Size             int64
}

func main() {
	configFilename := flag.String("config", "", "Configuration file path")
	repetitions := flag.Int("repeat", 3, "Writes per compression level")
	maxLevel := flag.Int("max-level", 9, "Highest deflate level to measure")
	flag.Parse()

	var err error
	configuration, err = pixie.LoadConfiguration(*configFilename)
	if err != nil {
		message := fmt.Errorf("Error reading configuration file: %w", err)
		logger.Error(message.Error())
		os.Exit(1)
	}
	pixie.SetLogger(logger)

	VerbosityLevel = configuration.Verbosity
	if VerbosityLevel > 0 {
		message := fmt.Sprintf("Reading configuration file: %s", *configFilename)
		logger.Info(message, "main")
	}

	measurements, err := measure(configuration, *repetitions, *maxLevel)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	for _, m := range measurements {
		fmt.Printf("(deflate, comp %d, run %d) Time: %d ms, size %d bytes\n",
			m.CompressionLevel, m.Repetition, m.Duration.Milliseconds(), m.Size)
	}
}

// measure decodes the run once and writes the full store at every
// compression level.
func measure(configuration pixie.Configuration, repetitions int, maxLevel int) ([]measurement, error) {
	if err := configuration.Validate(); err != nil {
		return nil, err
	}
	base := pixie.SeriesBasename(configuration.FileIn)
	output := configuration.FileOut
	if output == "" {
		output = base + "_measure.h5"
	}

	meta, err := pixie.ReadSeriesMetadata(base)
	if err != nil {
		return nil, err
	}
	calibration, err := pixie.LoadCalibration(configuration, meta)
	if err != nil {
		return nil, err
	}
	ctx, err := pixie.NewRunContext(configuration, meta, calibration)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	events, tracker, err := pixie.DecodeSeries(base, ctx)
	if err != nil {
		return nil, err
	}
	streams := pixie.ClassifyAll(events, ctx)
	spectra, err := pixie.AccumulateAll(streams, tracker, ctx, configuration.NumWorkers)
	if err != nil {
		return nil, err
	}
	logger.Info(fmt.Sprintf("Total events processed: %d in %d ms", len(events), time.Since(start).Milliseconds()), "main")

	input := pixie.StoreInput{
		Events:      events,
		Streams:     streams,
		Spectra:     spectra,
		WriteEvents: configuration.WriteEvents,
	}

	measurements := make([]measurement, 0, (maxLevel+1)*repetitions)
	for compressionLevel := 0; compressionLevel <= maxLevel; compressionLevel++ {
		for i := 0; i < repetitions; i++ {
			if VerbosityLevel > 0 {
				message := fmt.Sprintf("Algorithm: standard hdf5, Compression level: %d", compressionLevel)
				logger.Info(message, "main")
			}
			start := time.Now()
			if err := pixie.WriteStore(output, ctx, input, compressionLevel); err != nil {
				return measurements, err
			}
			duration := time.Since(start)
			fileInfo, err := os.Stat(output)
			if err != nil {
				logger.Error(fmt.Sprintf("Error getting file info: %v", err))
				continue
			}
			measurements = append(measurements, measurement{
				CompressionLevel: compressionLevel,
				Repetition:       i,
				Duration:         duration,
				Size:             fileInfo.Size(),
			})
		}
	}
	return measurements, nil
}
