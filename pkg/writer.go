package pixie

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	hdf5 "github.com/jmbenlloch/go-hdf5"
)

const partialSuffix = ".partial"

// Writer builds the spectrum store. Everything goes to <filename>.partial
// and only Commit publishes the file under its final name.
type Writer struct {
	File             *hdf5.File
	Filename         string
	PartialName      string
	CompressionLevel int
	Verbosity        int
	ParseGroup       *hdf5.Group
	StatsGroup       *hdf5.Group
	SpectraGroup     *hdf5.Group
	SigGroup         *hdf5.Group
	RuleGroups       map[Rule]*hdf5.Group
	ReadoutTable     *hdf5.Dataset
	EvtCounter       int
	closed           bool
}

func NewWriter(filename string, compressionLevel int, verbosity int) (*Writer, error) {
	writer := &Writer{
		Filename:         filename,
		PartialName:      filename + partialSuffix,
		CompressionLevel: compressionLevel,
		Verbosity:        verbosity,
		RuleGroups:       make(map[Rule]*hdf5.Group),
	}
	if verbosity > 0 {
		logger.Info(fmt.Sprintf("Creating file %s", writer.PartialName), "writer")
	}

	var err error
	writer.File, err = openFile(writer.PartialName)
	if err != nil {
		return nil, err
	}

	if err := writer.createLayout(); err != nil {
		writer.Abort()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) createLayout() error {
	var err error
	if w.ParseGroup, err = createGroup(w.File, "bin_data_parse"); err != nil {
		return err
	}
	if w.StatsGroup, err = createGroup(w.File, "stats"); err != nil {
		return err
	}
	if w.SpectraGroup, err = createGroup(w.File, "spectra"); err != nil {
		return err
	}
	for _, rule := range Rules {
		group, err := createSubgroup(w.SpectraGroup, rule.String())
		if err != nil {
			return err
		}
		w.RuleGroups[rule] = group
	}
	w.ReadoutTable, err = createTable(w.ParseGroup, "readout", readoutHDF5{}, w.CompressionLevel)
	return err
}

func toReadoutHDF5(event GammaEvent) readoutHDF5 {
	return readoutHDF5{
		energy_0:  event.Channels[0].Sentinel(),
		energy_1:  event.Channels[1].Sentinel(),
		energy_2:  event.Channels[2].Sentinel(),
		deltaT_01: event.DeltaT01,
		deltaT_02: event.DeltaT02,
		deltaT_12: event.DeltaT12,
		timestamp: event.Timestamp,
	}
}

func toSpectrumEventHDF5(event ClassifiedEvent) spectrumEventHDF5 {
	return spectrumEventHDF5{
		energy:    int32(event.Energy),
		timestamp: event.Timestamp,
	}
}

// WriteEvents appends decoded events to /bin_data_parse/readout.
func (w *Writer) WriteEvents(events []GammaEvent) error {
	written, err := writeInBatches(w.ReadoutTable, w.EvtCounter, events, toReadoutHDF5)
	w.EvtCounter += written
	return err
}

// WriteStats stores the run start as [year, month, day, hour, minute,
// second] together with total and live times.
func (w *Writer) WriteStats(ctx RunContext) error {
	meta := ctx.Metadata
	start := meta.RunStart
	startTuple := []int32{
		int32(start.Year()), int32(start.Month()), int32(start.Day()),
		int32(start.Hour()), int32(start.Minute()), int32(start.Second()),
	}
	if err := w.writeInt32Vector(w.StatsGroup, "start", startTuple); err != nil {
		return err
	}
	if err := createFixedArray(w.StatsGroup, "total", []float64{meta.TotalTime}); err != nil {
		return err
	}
	live := meta.LiveTime[:]
	if err := createFixedArray(w.StatsGroup, "live", live); err != nil {
		return err
	}

	info, err := createTable(w.StatsGroup, "runInfo", runInfoHDF5{}, w.CompressionLevel)
	if err != nil {
		return err
	}
	defer info.Close()
	var runID [UUIDLEN]byte
	copy(runID[:], ctx.RunID.String())
	return writeEntryToTable(info, runInfoHDF5{
		run_id:       runID,
		energy_max:   int32(ctx.EnergyMax),
		short_window: ctx.ShortWindow,
		chunk_width:  ctx.ChunkWidth,
		tick_ns:      ctx.TickNs,
	}, 0)
}

func (w *Writer) writeInt32Vector(group *hdf5.Group, name string, data []int32) error {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(data))}, nil)
	if err != nil {
		return &ErrCreateTable{TableName: name, Err: err}
	}
	defer space.Close()

	dset, err := group.CreateDataset(name, hdf5.T_NATIVE_INT32, space)
	if err != nil {
		return &ErrCreateTable{TableName: name, Err: err}
	}
	defer dset.Close()

	if err := dset.Write(&data); err != nil {
		return &ErrWriteDataset{DatasetName: name, Err: err}
	}
	return nil
}

// WriteSpectrum stores <code><c>_spec and, when stream is not nil, the
// classified events as <code><c>_evts.
func (w *Writer) WriteSpectrum(spectrum *SpectrumArray, stream []ClassifiedEvent) error {
	group := w.RuleGroups[spectrum.Rule]
	key := spectrum.Key()

	if stream != nil {
		name := key.String() + "_evts"
		table, err := createTable(group, name, spectrumEventHDF5{}, w.CompressionLevel)
		if err != nil {
			return err
		}
		_, err = writeInBatches(table, 0, stream, toSpectrumEventHDF5)
		if closeErr := table.Close(); err == nil && closeErr != nil {
			err = &ErrWriteDataset{DatasetName: name, Err: closeErr}
		}
		if err != nil {
			return err
		}
	}

	name := key.String() + "_spec"
	array, err := create2dArray(group, name, len(spectrum.Rows), spectrum.NumBins(), w.CompressionLevel)
	if err != nil {
		return err
	}
	defer array.Close()

	flat := spectrum.Flat()
	if err := array.Write(&flat); err != nil {
		return &ErrWriteDataset{DatasetName: name, Err: err}
	}
	if w.Verbosity > 1 {
		message := fmt.Sprintf("Written %s: %dx%d", name, len(spectrum.Rows), spectrum.NumBins())
		logger.Info(message, "writer")
	}
	return nil
}

// WriteSigLookup stores the signature markers and fit coefficients of every
// output channel. It does nothing without a signature library.
func (w *Writer) WriteSigLookup(calibration Calibration) error {
	if len(calibration.Library) == 0 {
		return nil
	}
	var err error
	if w.SigGroup, err = createGroup(w.File, "sig_lookup"); err != nil {
		return err
	}
	for _, channel := range OutputChannels {
		fit, ok := calibration.Fit(channel)
		if !ok {
			logger.Error(fmt.Sprintf("no calibration for channel %d, skipping signature lookup", channel))
			continue
		}
		suffix := strconv.Itoa(channel)
		if err := createFixedArray(w.SigGroup, "en_coeff_"+suffix, fit.EnergyFit[:]); err != nil {
			return err
		}
		if err := createFixedArray(w.SigGroup, "fwhm_coeff_"+suffix, fit.FwhmFit[:]); err != nil {
			return err
		}

		markers := calibration.Markers(channel)
		rows := make([]signatureHDF5, len(markers))
		for i, marker := range markers {
			rows[i] = signatureHDF5{
				name: convertToHdf5String(marker.Name),
				zaid: convertToHdf5String(marker.ZAID),
				LM:   int32(marker.LM),
				RM:   int32(marker.RM),
			}
		}
		table, err := createTable(w.SigGroup, "det"+suffix+"_sig", signatureHDF5{}, w.CompressionLevel)
		if err != nil {
			return err
		}
		err = writeArrayToTable(table, &rows, 0)
		table.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases every handle of the file. It does not publish the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error

	if w.ReadoutTable != nil {
		if err := w.ReadoutTable.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing readout table: %w", err))
		}
	}
	for _, rule := range Rules {
		if group := w.RuleGroups[rule]; group != nil {
			if err := group.Close(); err != nil {
				errs = append(errs, fmt.Errorf("error closing %s group: %w", rule, err))
			}
		}
	}
	groups := []struct {
		name  string
		group *hdf5.Group
	}{
		{"bin_data_parse", w.ParseGroup},
		{"stats", w.StatsGroup},
		{"spectra", w.SpectraGroup},
		{"sig_lookup", w.SigGroup},
	}
	for _, g := range groups {
		if g.group == nil {
			continue
		}
		if err := g.group.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing %s group: %w", g.name, err))
		}
	}
	if w.File != nil {
		if err := w.File.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing file: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Commit closes the file and renames it to its final name.
func (w *Writer) Commit() error {
	if err := w.Close(); err != nil {
		w.removePartial()
		return err
	}
	if err := os.Rename(w.PartialName, w.Filename); err != nil {
		w.removePartial()
		return fmt.Errorf("error publishing %q: %w", w.Filename, err)
	}
	if w.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Written %s", w.Filename), "writer")
	}
	return nil
}

// Abort closes the file and deletes the partial output.
func (w *Writer) Abort() {
	if err := w.Close(); err != nil {
		logger.Error(err.Error())
	}
	w.removePartial()
}

func (w *Writer) removePartial() {
	if err := os.Remove(w.PartialName); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error(fmt.Errorf("error removing %q: %w", w.PartialName, err).Error())
	}
}

// StoreInput is everything persisted for one run.
type StoreInput struct {
	Events      []GammaEvent
	Streams     map[SpectrumKey][]ClassifiedEvent
	Spectra     *Spectra
	WriteEvents bool
}

// WriteStore writes a complete store. On any error the partial file is
// removed and nothing is published under filename.
func WriteStore(filename string, ctx RunContext, input StoreInput, compressionLevel int) (err error) {
	writer, err := NewWriter(filename, compressionLevel, ctx.Verbosity)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			writer.Abort()
		}
	}()

	if input.WriteEvents {
		if err = writer.WriteEvents(input.Events); err != nil {
			return err
		}
	}
	if err = writer.WriteStats(ctx); err != nil {
		return err
	}
	for _, key := range SpectrumKeys() {
		spectrum, ok := input.Spectra.Get(key.Rule, key.Channel)
		if !ok {
			err = fmt.Errorf("missing spectrum %s", key)
			return err
		}
		var stream []ClassifiedEvent
		if input.WriteEvents {
			stream = input.Streams[key]
			if stream == nil {
				stream = []ClassifiedEvent{}
			}
		}
		if err = writer.WriteSpectrum(spectrum, stream); err != nil {
			return err
		}
	}
	if err = writer.WriteSigLookup(ctx.Calibration); err != nil {
		return err
	}
	err = writer.Commit()
	return err
}
