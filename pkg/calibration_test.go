package pixie

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLibrary = `# ZAID name energy keV

55137 Cs-137 661.657
27060 Co-60  1173.228
`

func simpleCalibration(t *testing.T) Calibration {
	t.Helper()
	calibration, err := NewCalibration(map[string]ChannelCalibration{
		"1": {EnergyFit: "0 0.5", FwhmFit: "2 0 0", McaCal: "2\n0 0.5 keV"},
		"2": {EnergyFit: "", FwhmFit: "1 1 1"},
	})
	require.NoError(t, err)
	calibration.Library = []Signature{{ZAID: "55137", Name: "Cs-137", Energy: 661.657}}
	return calibration
}

func TestNewChannelFit(t *testing.T) {
	fit, err := NewChannelFit(2, ChannelCalibration{
		EnergyFit: "0.118379 0.506684",
		FwhmFit:   "1.828179E+000 5.470951E-005 3.872378E-008",
	})
	require.NoError(t, err)

	want := ChannelFit{
		Channel:   2,
		EnergyFit: [2]float64{0.118379, 0.506684},
		FwhmFit:   [3]float64{1.828179, 5.470951e-5, 3.872378e-8},
	}
	if diff := cmp.Diff(want, fit, floatOpts); diff != "" {
		t.Errorf("fit mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 1000.0, fit.Bin(fit.Energy(1000)), 1e-9)
}

func TestNewChannelFitErrors(t *testing.T) {
	tests := map[string]ChannelCalibration{
		"zero gain":    {EnergyFit: "0.1 0", FwhmFit: "1 0 0"},
		"short energy": {EnergyFit: "0.1", FwhmFit: "1 0 0"},
		"short fwhm":   {EnergyFit: "0.1 0.5", FwhmFit: "1 0"},
		"not a number": {EnergyFit: "0.1 abc", FwhmFit: "1 0 0"},
	}
	for name, cal := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewChannelFit(1, cal)
			assert.Error(t, err)
		})
	}
}

func TestNewCalibration(t *testing.T) {
	calibration := simpleCalibration(t)
	assert.Equal(t, []int{1}, calibration.CalibratedChannels())

	_, ok := calibration.Fit(2)
	assert.False(t, ok)

	_, err := NewCalibration(map[string]ChannelCalibration{"det1": {EnergyFit: "0 1", FwhmFit: "1 0 0"}})
	var configErr *ConfigurationError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "calibration", configErr.Field)

	_, err = NewCalibration(map[string]ChannelCalibration{"1": {EnergyFit: "0 0", FwhmFit: "1 0 0"}})
	assert.True(t, errors.As(err, &configErr))
}

func TestCalibrationEnergyAxis(t *testing.T) {
	calibration := simpleCalibration(t)

	calibrated := calibration.EnergyAxis(1, 8)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4}, calibrated)

	identity := calibration.EnergyAxis(2, 3)
	assert.Equal(t, []float64{0, 1, 2, 3}, identity)
}

func TestCalibrationMarkers(t *testing.T) {
	calibration := simpleCalibration(t)

	markers := calibration.Markers(1)
	require.Len(t, markers, 1)
	// centroid 1323.314, fwhm 2
	assert.Equal(t, 1320, markers[0].LM)
	assert.Equal(t, 1327, markers[0].RM)
	assert.Equal(t, "Cs-137", markers[0].Name)
	assert.Equal(t, 1, markers[0].Channel)

	assert.Nil(t, calibration.Markers(2))
}

func TestLoadSignatureLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.txt")
	writeFile(t, path, []byte(testLibrary))

	library, err := LoadSignatureLibrary(path)
	require.NoError(t, err)
	want := []Signature{
		{ZAID: "55137", Name: "Cs-137", Energy: 661.657},
		{ZAID: "27060", Name: "Co-60", Energy: 1173.228},
	}
	assert.Equal(t, want, library)
}

func TestLoadSignatureLibraryBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.txt")
	writeFile(t, path, []byte("# header\n55137 Cs-137 661.657\n27060 Co-60\n"))

	_, err := LoadSignatureLibrary(path)
	var formatErr *MetadataFormatError
	require.True(t, errors.As(err, &formatErr))
	assert.Equal(t, 3, formatErr.Line)

	_, err = LoadSignatureLibrary(filepath.Join(t.TempDir(), "missing.txt"))
	var openErr *ErrOpenFile
	assert.True(t, errors.As(err, &openErr))
}

func stepHistogram(size, edge int, low, high int32) []int32 {
	hist := make([]int32, size)
	for i := range hist {
		if i < edge {
			hist[i] = low
		} else {
			hist[i] = high
		}
	}
	return hist
}

func TestComputeDetectionLimit(t *testing.T) {
	hist := stepHistogram(64, 15, 2, 6)
	marker := SignatureMarker{Signature: Signature{Name: "test"}, LM: 10, RM: 20}

	limit, err := ComputeDetectionLimit(hist, marker)
	require.NoError(t, err)

	// 11 channels, average of 2 and 6 counts
	assert.InDelta(t, 44.0, limit.Background, 1e-9)
	assert.InDelta(t, 2.325*math.Sqrt(44), limit.Critical, 1e-9)
	assert.InDelta(t, 2.706+4.653*math.Sqrt(44), limit.Detection, 1e-9)
}

func TestComputeDetectionLimitErrors(t *testing.T) {
	hist := stepHistogram(32, 0, 1, 1)

	_, err := ComputeDetectionLimit(hist, SignatureMarker{LM: 2, RM: 10})
	assert.Error(t, err)
	_, err = ComputeDetectionLimit(hist, SignatureMarker{LM: 10, RM: 30})
	assert.Error(t, err)
	_, err = ComputeDetectionLimit(hist, SignatureMarker{LM: 12, RM: 10})
	assert.Error(t, err)
}

func TestCalibrationFromEntries(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2019, time.March, d, 0, 0, 0, 0, time.UTC) }
	entries := []CalibrationEntry{
		{Channel: 1, EnergyFit: "0 0.4", FwhmFit: "1 0 0", ValidFrom: day(1), ValidTo: day(30)},
		{Channel: 1, EnergyFit: "0 0.5", FwhmFit: "2 0 0", ValidFrom: day(3), ValidTo: day(30)},
		{Channel: 2, EnergyFit: "0 0.6", FwhmFit: "3 0 0", McaCal: "raw", ValidFrom: day(2), ValidTo: day(30)},
	}

	got := calibrationFromEntries(entries)
	want := map[string]ChannelCalibration{
		"1": {EnergyFit: "0 0.5", FwhmFit: "2 0 0"},
		"2": {EnergyFit: "0 0.6", FwhmFit: "3 0 0", McaCal: "raw"},
	}
	assert.Equal(t, want, got)
}

func TestLoadCalibrationFromConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.txt")
	writeFile(t, path, []byte(testLibrary))

	config := DefaultConfiguration()
	config.Calibration = map[string]ChannelCalibration{"1": {EnergyFit: "0 0.5", FwhmFit: "2 0 0"}}
	config.SigLibrary = path

	calibration, err := LoadCalibration(config, CaptureRunMetadata{})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, calibration.CalibratedChannels())
	assert.Len(t, calibration.Library, 2)
	assert.Len(t, calibration.Markers(1), 2)
}
