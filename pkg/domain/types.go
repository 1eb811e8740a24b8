package domain

import (
	"strconv"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "Pending"
	TaskProcessing TaskStatus = "Processing"
	TaskCompleted  TaskStatus = "Completed"
	TaskFailed     TaskStatus = "Failed"
)

// Duration is the closed set of registration durations.
type Duration string

const (
	Duration7Years  Duration = "7 years"
	Duration25Years Duration = "25 years"
	DurationNA      Duration = "N/A"
)

// ParseDuration accepts the literal "N/A" or an integer 7 or 25 (years).
func ParseDuration(raw string) (Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", &ValidationError{Field: "Registration duration", Reason: "duration required"}
	}
	if value == "N/A" {
		return DurationNA, nil
	}
	years, err := strconv.Atoi(value)
	if err != nil || (years != 7 && years != 25) {
		return "", &ValidationError{Field: "Registration duration", Reason: "invalid duration"}
	}
	if years == 7 {
		return Duration7Years, nil
	}
	return Duration25Years, nil
}

// VehicleRegistration is one grantor/VIN/secured-party registration record.
type VehicleRegistration struct {
	ID                 string    `json:"id"`
	GrantorFirstName   string    `json:"grantorFirstName"`
	GrantorMiddleNames string    `json:"grantorMiddleNames,omitempty"`
	GrantorLastName    string    `json:"grantorLastName"`
	VIN                string    `json:"vin"`
	StartDate          time.Time `json:"registrationStartDate"`
	Duration           Duration  `json:"registrationDuration"`
	SpgAcn             string    `json:"spgAcn"`
	SpgOrgName         string    `json:"spgOrgName"`
}

// FullName builds the grantor identity key. Both the lookup path and the
// write path must go through this function so trimming stays consistent.
func FullName(first, middle, last string) string {
	return strings.TrimSpace(first + " " + middle + " " + last)
}

// FullName returns the identity key of this record.
func (r *VehicleRegistration) FullName() string {
	return FullName(r.GrantorFirstName, r.GrantorMiddleNames, r.GrantorLastName)
}

// UploadSummary holds the outcome counters of one ingestion run.
// For every run: Submitted = Processed + Invalid and Processed = Added + Updated.
type UploadSummary struct {
	Submitted int `json:"submitted"`
	Processed int `json:"processed"`
	Invalid   int `json:"invalid"`
	Added     int `json:"added"`
	Updated   int `json:"updated"`
}

// UploadedFile records a previously accepted file by content hash.
type UploadedFile struct {
	ID         string    `json:"id"`
	Hash       string    `json:"hash"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// UploadTask tracks one asynchronous ingestion run.
type UploadTask struct {
	ID            string     `json:"taskId"`
	FileHash      string     `json:"-"`
	Status        TaskStatus `json:"status"`
	ErrorMessage  string     `json:"error,omitempty"`
	UploadSummary            // counters, flattened into the status payload
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}
