package core

import "github.com/cockroachdb/errors"

// Sentinel errors. Wrap these with errors.Wrap to add context while keeping
// errors.Is working.
var (
	// ErrEmptyBatch is returned when no records were decoded from the input.
	ErrEmptyBatch = errors.New("empty batch: no records found")

	// ErrInvalidFormat is returned when any row of the input fails to decode.
	// The whole batch is rejected; no job is created.
	ErrInvalidFormat = errors.New("invalid file format")

	// ErrUnsupportedFileType is returned when the upload is neither CSV nor XLSX.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrJobNotFound is returned when an upload id is unknown to the store.
	ErrJobNotFound = errors.New("upload not found")
)
