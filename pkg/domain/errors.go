package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateFile rejects a file whose content hash was accepted before.
	ErrDuplicateFile = errors.New("file has already been submitted previously")
	// ErrEmptyFile rejects a CSV with a header but no data rows.
	ErrEmptyFile = errors.New("CSV must contain at least one data row")
	// ErrMalformedCSV rejects a file the CSV reader cannot parse at all.
	ErrMalformedCSV = errors.New("file is not a parseable CSV")
)

// ValidationError reports a single invalid field in one CSV row.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// VINConflictError reports a VIN already registered to a different grantor.
type VINConflictError struct {
	VIN string
}

func (e *VINConflictError) Error() string {
	return fmt.Sprintf("VIN %s already registered to another grantor", e.VIN)
}
