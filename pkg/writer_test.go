package pixie

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	hdf5 "github.com/jmbenlloch/go-hdf5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeFixture(t *testing.T) (RunContext, StoreInput) {
	t.Helper()
	ctx := testContext()
	ctx.RunID = uuid.New()
	ctx.EnergyMax = 256
	ctx.ChunkWidth = 50
	ctx.Metadata = speMetadata()
	ctx.Calibration = simpleCalibration(t)

	events := randomEvents(13, 300)
	for i := range events {
		for c := range events[i].Channels {
			events[i].Channels[c].Energy %= 256
		}
	}
	var tracker DurationTracker
	for _, event := range events {
		tracker.Observe(event)
	}
	streams := ClassifyAll(events, ctx)
	spectra, err := AccumulateAll(streams, tracker, ctx, 3)
	require.NoError(t, err)

	return ctx, StoreInput{Events: events, Streams: streams, Spectra: spectra, WriteEvents: true}
}

func datasetDims(t *testing.T, file *hdf5.File, name string) []uint {
	t.Helper()
	dset, err := file.OpenDataset(name)
	require.NoError(t, err, name)
	defer dset.Close()
	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	require.NoError(t, err, name)
	return dims
}

func readInt32(t *testing.T, file *hdf5.File, name string, size int) []int32 {
	t.Helper()
	dset, err := file.OpenDataset(name)
	require.NoError(t, err, name)
	defer dset.Close()
	data := make([]int32, size)
	require.NoError(t, dset.Read(&data), name)
	return data
}

func readFloat64(t *testing.T, file *hdf5.File, name string, size int) []float64 {
	t.Helper()
	dset, err := file.OpenDataset(name)
	require.NoError(t, err, name)
	defer dset.Close()
	data := make([]float64, size)
	require.NoError(t, dset.Read(&data), name)
	return data
}

func TestWriteStore(t *testing.T) {
	ctx, input := storeFixture(t)
	filename := filepath.Join(t.TempDir(), "run.h5")

	require.NoError(t, WriteStore(filename, ctx, input, 4))

	assert.FileExists(t, filename)
	assert.NoFileExists(t, filename+partialSuffix)

	file, err := hdf5.OpenFile(filename, hdf5.F_ACC_RDONLY)
	require.NoError(t, err)
	defer file.Close()

	assert.Equal(t, []uint{uint(len(input.Events))}, datasetDims(t, file, "bin_data_parse/readout"))
	assert.Equal(t, []int32{2019, 3, 5, 10, 15, 30}, readInt32(t, file, "stats/start", 6))
	assert.Equal(t, []float64{120.5}, readFloat64(t, file, "stats/total", 1))
	assert.Equal(t, []float64{100.25, 110.5, 111.75, 0}, readFloat64(t, file, "stats/live", 4))
	assert.Equal(t, []uint{1}, datasetDims(t, file, "stats/runInfo"))

	for _, key := range SpectrumKeys() {
		spectrum, ok := input.Spectra.Get(key.Rule, key.Channel)
		require.True(t, ok)
		group := "spectra/" + key.Rule.String() + "/" + key.String()

		dims := datasetDims(t, file, group+"_spec")
		assert.Equal(t, []uint{uint(len(spectrum.Rows)), uint(ctx.EnergyMax + 1)}, dims, key.String())
		stored := readInt32(t, file, group+"_spec", len(spectrum.Rows)*(ctx.EnergyMax+1))
		assert.Equal(t, spectrum.Flat(), stored, key.String())

		assert.Equal(t, []uint{uint(len(input.Streams[key]))}, datasetDims(t, file, group+"_evts"), key.String())
	}

	assert.Equal(t, []float64{0, 0.5}, readFloat64(t, file, "sig_lookup/en_coeff_1", 2))
	assert.Equal(t, []float64{2, 0, 0}, readFloat64(t, file, "sig_lookup/fwhm_coeff_1", 3))
	assert.Equal(t, []uint{1}, datasetDims(t, file, "sig_lookup/det1_sig"))
}

func TestWriteStoreWithoutEvents(t *testing.T) {
	ctx, input := storeFixture(t)
	input.WriteEvents = false
	ctx.Calibration = Calibration{}
	filename := filepath.Join(t.TempDir(), "run.h5")

	require.NoError(t, WriteStore(filename, ctx, input, 0))

	file, err := hdf5.OpenFile(filename, hdf5.F_ACC_RDONLY)
	require.NoError(t, err)
	defer file.Close()

	assert.Equal(t, []uint{0}, datasetDims(t, file, "bin_data_parse/readout"))
	_, err = file.OpenDataset("spectra/normal/norm1_evts")
	assert.Error(t, err)
	_, err = file.OpenGroup("sig_lookup")
	assert.Error(t, err)
}

func TestWriteStoreFailureLeavesNothing(t *testing.T) {
	ctx, input := storeFixture(t)
	delete(input.Spectra.Arrays, SpectrumKey{GammaGamma, 2})
	filename := filepath.Join(t.TempDir(), "run.h5")

	err := WriteStore(filename, ctx, input, 4)
	require.Error(t, err)
	assert.NoFileExists(t, filename)
	assert.NoFileExists(t, filename+partialSuffix)
}

func TestWriteStoreReplacesPreviousFile(t *testing.T) {
	ctx, input := storeFixture(t)
	filename := filepath.Join(t.TempDir(), "run.h5")
	require.NoError(t, os.WriteFile(filename, []byte("old"), 0o644))

	require.NoError(t, WriteStore(filename, ctx, input, 1))

	info, err := os.Stat(filename)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(3))
}

func TestWriterAbort(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "run.h5")
	writer, err := NewWriter(filename, 0, 0)
	require.NoError(t, err)
	assert.FileExists(t, filename+partialSuffix)

	writer.Abort()
	assert.NoFileExists(t, filename+partialSuffix)
	assert.NoFileExists(t, filename)
	// closing again is a no-op
	assert.NoError(t, writer.Close())
}
