package pixie

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ChannelCalibration holds the calibration strings of one detector channel,
// written the way the acquisition software exports them ("a0 a1 ...").
type ChannelCalibration struct {
	EnergyFit string `json:"energy_fit" mapstructure:"energy_fit"`
	FwhmFit   string `json:"fwhm_fit" mapstructure:"fwhm_fit"`
	McaCal    string `json:"mca_cal" mapstructure:"mca_cal"`
}

type Configuration struct {
	FileIn           string                        `json:"file_in" mapstructure:"file_in"`
	FileOut          string                        `json:"file_out" mapstructure:"file_out"`
	Verbosity        int                           `json:"verbosity" mapstructure:"verbosity"`
	EnergyMax        int                           `json:"energy_max" mapstructure:"energy_max"`
	ShortWindow      float64                       `json:"short_window" mapstructure:"short_window"`
	ChunkWidth       float64                       `json:"chunk_width" mapstructure:"chunk_width"`
	TickNs           float64                       `json:"tick_ns" mapstructure:"tick_ns"`
	NumWorkers       int                           `json:"num_workers" mapstructure:"num_workers"`
	CompressionLevel int                           `json:"compression_level" mapstructure:"compression_level"`
	WriteEvents      bool                          `json:"write_events" mapstructure:"write_events"`
	Calibration      map[string]ChannelCalibration `json:"calibration" mapstructure:"calibration"`
	SigLibrary       string                        `json:"sig_library" mapstructure:"sig_library"`
	UseDB            bool                          `json:"use_db" mapstructure:"use_db"`
	Host             string                        `json:"host" mapstructure:"host"`
	User             string                        `json:"user" mapstructure:"user"`
	Passwd           string                        `json:"pass" mapstructure:"pass"`
	DBName           string                        `json:"dbname" mapstructure:"dbname"`
	AuditDB          string                        `json:"audit_db" mapstructure:"audit_db"`
	SpeDir           string                        `json:"spe_dir" mapstructure:"spe_dir"`
	PreviewDir       string                        `json:"preview_dir" mapstructure:"preview_dir"`
}

const (
	DefaultEnergyMax   = 8192
	DefaultShortWindow = 90.0
	DefaultChunkWidth  = 60.0
	// PIXIE clock: 75 MHz
	DefaultTickNs = 1000.0 / 75.0
)

// DefaultConfiguration returns the values used when a key is absent from
// both the configuration file and the environment.
func DefaultConfiguration() Configuration {
	return Configuration{
		Verbosity:        0,
		EnergyMax:        DefaultEnergyMax,
		ShortWindow:      DefaultShortWindow,
		ChunkWidth:       DefaultChunkWidth,
		TickNs:           DefaultTickNs,
		NumWorkers:       4,
		CompressionLevel: 4,
		WriteEvents:      true,
		Host:             "localhost",
		User:             "pixiereader",
		Passwd:           "readonly",
		DBName:           "PIXIE",
	}
}

// LoadConfiguration reads a JSON configuration file. Any key can be
// overridden from the environment as PIXIE_<KEY>, e.g. PIXIE_ENERGY_MAX.
// An empty filename loads defaults and environment only.
func LoadConfiguration(filename string) (Configuration, error) {
	defaults := DefaultConfiguration()

	v := viper.New()
	v.SetDefault("file_in", defaults.FileIn)
	v.SetDefault("file_out", defaults.FileOut)
	v.SetDefault("verbosity", defaults.Verbosity)
	v.SetDefault("energy_max", defaults.EnergyMax)
	v.SetDefault("short_window", defaults.ShortWindow)
	v.SetDefault("chunk_width", defaults.ChunkWidth)
	v.SetDefault("tick_ns", defaults.TickNs)
	v.SetDefault("num_workers", defaults.NumWorkers)
	v.SetDefault("compression_level", defaults.CompressionLevel)
	v.SetDefault("write_events", defaults.WriteEvents)
	v.SetDefault("sig_library", defaults.SigLibrary)
	v.SetDefault("use_db", defaults.UseDB)
	v.SetDefault("host", defaults.Host)
	v.SetDefault("user", defaults.User)
	v.SetDefault("pass", defaults.Passwd)
	v.SetDefault("dbname", defaults.DBName)
	v.SetDefault("audit_db", defaults.AuditDB)
	v.SetDefault("spe_dir", defaults.SpeDir)
	v.SetDefault("preview_dir", defaults.PreviewDir)

	v.SetEnvPrefix("PIXIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		v.SetConfigFile(filename)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return defaults, fmt.Errorf("error reading configuration file %q: %w", filename, err)
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return defaults, fmt.Errorf("error decoding configuration: %w", err)
	}
	return config, nil
}

// Validate checks the values the decoder, classifier and accumulator
// depend on. A bad value here would corrupt every spectrum of the run.
func (c Configuration) Validate() error {
	if c.FileIn == "" {
		return &ConfigurationError{Field: "file_in", Reason: "missing capture series path"}
	}
	if c.EnergyMax <= 0 {
		return &ConfigurationError{Field: "energy_max", Reason: fmt.Sprintf("must be positive, got %d", c.EnergyMax)}
	}
	// Energies are 16-bit words on the wire
	if c.EnergyMax > 0xFFFF {
		return &ConfigurationError{Field: "energy_max", Reason: fmt.Sprintf("must fit in 16 bits, got %d", c.EnergyMax)}
	}
	if !(c.ShortWindow > 0) {
		return &ConfigurationError{Field: "short_window", Reason: fmt.Sprintf("must be positive, got %g", c.ShortWindow)}
	}
	if !(c.ChunkWidth > 0) {
		return &ConfigurationError{Field: "chunk_width", Reason: fmt.Sprintf("must be positive, got %g", c.ChunkWidth)}
	}
	if !(c.TickNs > 0) {
		return &ConfigurationError{Field: "tick_ns", Reason: fmt.Sprintf("must be positive, got %g", c.TickNs)}
	}
	if c.NumWorkers <= 0 {
		return &ConfigurationError{Field: "num_workers", Reason: fmt.Sprintf("must be positive, got %d", c.NumWorkers)}
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return &ConfigurationError{Field: "compression_level", Reason: fmt.Sprintf("must be in [0, 9], got %d", c.CompressionLevel)}
	}
	return nil
}
