package pixie

import (
	"github.com/google/uuid"
)

// RunContext carries everything a run needs through the pipeline. It is
// built once, after the configuration and metadata are loaded, and passed
// by value from then on.
type RunContext struct {
	RunID       uuid.UUID
	EnergyMax   int
	ShortWindow float64
	ChunkWidth  float64
	TickNs      float64
	Verbosity   int
	Metadata    CaptureRunMetadata
	Calibration Calibration
}

func NewRunContext(config Configuration, meta CaptureRunMetadata, calibration Calibration) (RunContext, error) {
	if err := config.Validate(); err != nil {
		return RunContext{}, err
	}
	return RunContext{
		RunID:       uuid.New(),
		EnergyMax:   config.EnergyMax,
		ShortWindow: config.ShortWindow,
		ChunkWidth:  config.ChunkWidth,
		TickNs:      config.TickNs,
		Verbosity:   config.Verbosity,
		Metadata:    meta,
		Calibration: calibration,
	}, nil
}
