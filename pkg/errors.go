package pixie

import "fmt"

// ErrOpenFile represents an error when opening a file.
type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error { return e.Err }

// ErrCreateGroup represents an error when creating a group.
type ErrCreateGroup struct {
	GroupName string
	Err       error
}

func (e *ErrCreateGroup) Error() string {
	return fmt.Sprintf("error creating group %q: %v", e.GroupName, e.Err)
}

func (e *ErrCreateGroup) Unwrap() error { return e.Err }

// ErrCreateTable represents an error when creating a table or array.
type ErrCreateTable struct {
	TableName string
	Err       error
}

func (e *ErrCreateTable) Error() string {
	return fmt.Sprintf("error creating table %q: %v", e.TableName, e.Err)
}

func (e *ErrCreateTable) Unwrap() error { return e.Err }

// ErrWriteDataset represents an error when writing rows to a dataset.
type ErrWriteDataset struct {
	DatasetName string
	Err         error
}

func (e *ErrWriteDataset) Error() string {
	return fmt.Sprintf("error writing dataset %q: %v", e.DatasetName, e.Err)
}

func (e *ErrWriteDataset) Unwrap() error { return e.Err }

// FramingError is returned when a capture file ends in the middle of a
// buffer or event record. The binary format has no resync marker, so the
// decode of the whole run stops here.
type FramingError struct {
	File   string
	Offset int64
	Record string
	Err    error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error in %q at byte %d reading %s: %v", e.File, e.Offset, e.Record, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// MetadataFormatError is returned when a .ifm descriptor is missing an
// expected line or a field cannot be parsed. Line is 1-based.
type MetadataFormatError struct {
	File string
	Line int
	Err  error
}

func (e *MetadataFormatError) Error() string {
	return fmt.Sprintf("metadata format error in %q line %d: %v", e.File, e.Line, e.Err)
}

func (e *MetadataFormatError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing or invalid configuration value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Field, e.Reason)
}
