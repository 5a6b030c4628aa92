package pixie

import (
	hdf5 "github.com/jmbenlloch/go-hdf5"
)

type readoutHDF5 struct {
	energy_0  int32
	energy_1  int32
	energy_2  int32
	deltaT_01 float64
	deltaT_02 float64
	deltaT_12 float64
	timestamp float64
}

type spectrumEventHDF5 struct {
	energy    int32
	timestamp float64
}

type signatureHDF5 struct {
	name [STRLEN]byte
	zaid [STRLEN]byte
	LM   int32
	RM   int32
}

type runInfoHDF5 struct {
	run_id       [UUIDLEN]byte
	energy_max   int32
	short_window float64
	chunk_width  float64
	tick_ns      float64
}

const STRLEN = 20
const UUIDLEN = 36

// Rows per chunk of the appendable tables.
const tableChunk = 32768

func convertToHdf5String(s string) [STRLEN]byte {
	var byteArray [STRLEN]byte
	copy(byteArray[:], s)
	return byteArray
}

func openFile(fname string) (*hdf5.File, error) {
	f, err := hdf5.CreateFile(fname, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, &ErrOpenFile{Filename: fname, Err: err}
	}
	return f, nil
}

func createGroup(file *hdf5.File, groupName string) (*hdf5.Group, error) {
	g, err := file.CreateGroup(groupName)
	if err != nil {
		return nil, &ErrCreateGroup{GroupName: groupName, Err: err}
	}
	return g, nil
}

func createSubgroup(parent *hdf5.Group, groupName string) (*hdf5.Group, error) {
	g, err := parent.CreateGroup(groupName)
	if err != nil {
		return nil, &ErrCreateGroup{GroupName: groupName, Err: err}
	}
	return g, nil
}

func compressedPropList(chunks []uint, compressionLevel int) (*hdf5.PropList, error) {
	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, err
	}
	if err := plist.SetChunk(chunks); err != nil {
		plist.Close()
		return nil, err
	}
	if compressionLevel > 0 {
		if err := plist.SetDeflate(compressionLevel); err != nil {
			plist.Close()
			return nil, err
		}
	}
	return plist, nil
}

// create2dArray makes a fixed size int32 array, chunked by row so a reader
// can load a single time snapshot.
func create2dArray(group *hdf5.Group, name string, nRows int, nColumns int, compressionLevel int) (*hdf5.Dataset, error) {
	dims := []uint{uint(nRows), uint(nColumns)}
	chunks := []uint{1, uint(nColumns)}
	return createArray(group, name, hdf5.T_NATIVE_INT32, dims, dims, chunks, compressionLevel)
}

func createArray(group *hdf5.Group, name string, dtype *hdf5.Datatype, dims []uint, maxDims []uint, chunks []uint, compressionLevel int) (*hdf5.Dataset, error) {
	file_spaceArray, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer file_spaceArray.Close()

	plistArray, err := compressedPropList(chunks, compressionLevel)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plistArray.Close()

	dsetArray, err := group.CreateDatasetWith(name, dtype, file_spaceArray, plistArray)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dsetArray, nil
}

// createFixedArray stores a small float64 vector, e.g. fit coefficients.
func createFixedArray(group *hdf5.Group, name string, data []float64) error {
	dims := []uint{uint(len(data))}
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return &ErrCreateTable{TableName: name, Err: err}
	}
	defer space.Close()

	dset, err := group.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return &ErrCreateTable{TableName: name, Err: err}
	}
	defer dset.Close()

	if err := dset.Write(&data); err != nil {
		return &ErrWriteDataset{DatasetName: name, Err: err}
	}
	return nil
}

func createTable(group *hdf5.Group, name string, datatype interface{}, compressionLevel int) (*hdf5.Dataset, error) {
	dims := []uint{0}
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	maxDims := []uint{uint(unlimitedDims)}
	file_space, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer file_space.Close()

	plist, err := compressedPropList([]uint{tableChunk}, compressionLevel)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plist.Close()

	// create the memory data type
	dtype, err := hdf5.NewDatatypeFromValue(datatype)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer dtype.Close()

	dset, err := group.CreateDatasetWith(name, dtype, file_space, plist)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dset, nil
}

func writeEntryToTable[T any](dataset *hdf5.Dataset, data T, rowCounter int) error {
	array := []T{data}
	return writeArrayToTable(dataset, &array, rowCounter)
}

// writeArrayToTable appends data after the first rowCounter rows.
func writeArrayToTable[T any](dataset *hdf5.Dataset, data *[]T, rowCounter int) error {
	length := uint(len(*data))
	if length == 0 {
		return nil
	}
	dims := []uint{length}
	dataspace, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return &ErrWriteDataset{DatasetName: dataset.Name(), Err: err}
	}
	defer dataspace.Close()

	// extend
	rowsInTable := uint(rowCounter)
	newsize := []uint{rowsInTable + length}
	if err := dataset.Resize(newsize); err != nil {
		return &ErrWriteDataset{DatasetName: dataset.Name(), Err: err}
	}
	filespace := dataset.Space()
	defer filespace.Close()

	start := []uint{rowsInTable}
	count := []uint{length}
	if err := filespace.SelectHyperslab(start, nil, count, nil); err != nil {
		return &ErrWriteDataset{DatasetName: dataset.Name(), Err: err}
	}

	if err := dataset.WriteSubset(data, dataspace, filespace); err != nil {
		return &ErrWriteDataset{DatasetName: dataset.Name(), Err: err}
	}
	return nil
}

// writeInBatches appends rows after offset in table-chunk sized slices so
// the conversion buffer stays bounded for long runs.
func writeInBatches[S any, T any](dataset *hdf5.Dataset, offset int, source []S, convert func(S) T) (int, error) {
	written := 0
	batch := make([]T, 0, tableChunk)
	for start := 0; start < len(source); start += tableChunk {
		end := min(start+tableChunk, len(source))
		batch = batch[:0]
		for _, item := range source[start:end] {
			batch = append(batch, convert(item))
		}
		if err := writeArrayToTable(dataset, &batch, offset+written); err != nil {
			return written, err
		}
		written += len(batch)
	}
	return written, nil
}
