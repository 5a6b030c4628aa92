package main

import (
	"fmt"

	pixie "github.com/jmbenlloch/pixie_decoder/pkg"
)

func printConfiguration(config pixie.Configuration, logger pixie.Logger) {
	logger.Info(fmt.Sprintf("File in: %s", config.FileIn), "config")
	logger.Info(fmt.Sprintf("File out: %s", config.FileOut), "config")
	logger.Info(fmt.Sprintf("Verbosity: %d", config.Verbosity), "config")
	logger.Info(fmt.Sprintf("Energy max: %d", config.EnergyMax), "config")
	logger.Info(fmt.Sprintf("Short window: %g", config.ShortWindow), "config")
	logger.Info(fmt.Sprintf("Chunk width: %g s", config.ChunkWidth), "config")
	logger.Info(fmt.Sprintf("Tick: %g ns", config.TickNs), "config")
	logger.Info(fmt.Sprintf("Number of workers: %d", config.NumWorkers), "config")
	logger.Info(fmt.Sprintf("Compression level: %d", config.CompressionLevel), "config")
	logger.Info(fmt.Sprintf("Write events: %t", config.WriteEvents), "config")
	logger.Info(fmt.Sprintf("Calibrated channels: %d", len(config.Calibration)), "config")
	logger.Info(fmt.Sprintf("Signature library: %s", config.SigLibrary), "config")
	logger.Info(fmt.Sprintf("Use DB: %t", config.UseDB), "config")
	logger.Info(fmt.Sprintf("Host: %s", config.Host), "config")
	logger.Info(fmt.Sprintf("DB name: %s", config.DBName), "config")
	logger.Info(fmt.Sprintf("Audit DB: %s", config.AuditDB), "config")
	logger.Info(fmt.Sprintf("Spe dir: %s", config.SpeDir), "config")
	logger.Info(fmt.Sprintf("Preview dir: %s", config.PreviewDir), "config")
}

// defaultOutput places the store next to the capture series.
func defaultOutput(base string) string {
	return base + ".h5"
}
