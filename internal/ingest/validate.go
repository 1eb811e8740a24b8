package ingest

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"vehicleregistry/pkg/domain"
)

// Expected CSV column names, matched exactly after trimming.
const (
	colFirstName   = "Grantor First Name"
	colMiddleNames = "Grantor Middle Names"
	colLastName    = "Grantor Last Name"
	colVIN         = "VIN"
	colStartDate   = "Registration start date"
	colDuration    = "Registration duration"
	colSpgAcn      = "SPG ACN"
	colSpgOrgName  = "SPG Organization Name"
)

// Row is one parsed CSV row keyed by trimmed header name. A column missing
// from the file is simply absent from the map.
type Row map[string]string

// Record is a fully validated registration row.
type Record struct {
	FirstName   string
	MiddleNames string
	LastName    string
	VIN         string
	StartDate   time.Time
	Duration    domain.Duration
	SpgAcn      string
	SpgOrgName  string
}

// FullName returns the grantor identity key of this record.
func (r Record) FullName() string {
	return domain.FullName(r.FirstName, r.MiddleNames, r.LastName)
}

// dateLayouts are tried in order; the first parse wins.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// ValidateRow runs every field validator in a fixed order and assembles a
// Record. The first failing field aborts the whole row; a row is never
// partially applied.
func ValidateRow(row Row) (Record, error) {
	firstName, err := requiredString(row, colFirstName, 35)
	if err != nil {
		return Record{}, err
	}
	middleNames, err := optionalString(row, colMiddleNames, 75)
	if err != nil {
		return Record{}, err
	}
	lastName, err := requiredString(row, colLastName, 35)
	if err != nil {
		return Record{}, err
	}
	vin, err := vinField(row)
	if err != nil {
		return Record{}, err
	}
	startDate, err := dateField(row)
	if err != nil {
		return Record{}, err
	}
	duration, err := domain.ParseDuration(row[colDuration])
	if err != nil {
		return Record{}, err
	}
	spgAcn, err := acnField(row)
	if err != nil {
		return Record{}, err
	}
	spgOrgName, err := requiredString(row, colSpgOrgName, 75)
	if err != nil {
		return Record{}, err
	}
	return Record{
		FirstName:   firstName,
		MiddleNames: middleNames,
		LastName:    lastName,
		VIN:         vin,
		StartDate:   startDate,
		Duration:    duration,
		SpgAcn:      spgAcn,
		SpgOrgName:  spgOrgName,
	}, nil
}

func requiredString(row Row, field string, maxLen int) (string, error) {
	value := strings.TrimSpace(row[field])
	if value == "" {
		return "", &domain.ValidationError{Field: field, Reason: "required"}
	}
	if utf8.RuneCountInString(value) > maxLen {
		return "", &domain.ValidationError{Field: field, Reason: fmt.Sprintf("exceeds %d characters", maxLen)}
	}
	return value, nil
}

// optionalString normalizes whitespace-only input to the empty string and
// fails only on length overflow.
func optionalString(row Row, field string, maxLen int) (string, error) {
	value := strings.TrimSpace(row[field])
	if utf8.RuneCountInString(value) > maxLen {
		return "", &domain.ValidationError{Field: field, Reason: fmt.Sprintf("exceeds %d characters", maxLen)}
	}
	return value, nil
}

func vinField(row Row) (string, error) {
	value := strings.TrimSpace(row[colVIN])
	if utf8.RuneCountInString(value) != 17 {
		return "", &domain.ValidationError{Field: colVIN, Reason: "must be 17 characters"}
	}
	return value, nil
}

func dateField(row Row) (time.Time, error) {
	value := strings.TrimSpace(row[colStartDate])
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &domain.ValidationError{Field: colStartDate, Reason: "invalid date"}
}

// acnField strips internal spaces before checking for exactly 9 digits.
func acnField(row Row) (string, error) {
	value := strings.TrimSpace(strings.ReplaceAll(row[colSpgAcn], " ", ""))
	if len(value) != 9 || !allDigits(value) {
		return "", &domain.ValidationError{Field: colSpgAcn, Reason: "must be 9 digits"}
	}
	return value, nil
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
