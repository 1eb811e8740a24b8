package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type RegistrationModel struct {
	ID                 string         `gorm:"primaryKey"`
	GrantorFirstName   string         `gorm:"size:35;not null"`
	GrantorMiddleNames string         `gorm:"size:75"`
	GrantorLastName    string         `gorm:"size:35;not null"`
	VIN                string         `gorm:"column:vin;size:17;not null;index:idx_registrations_vin_spg,priority:1"`
	StartDate          datatypes.Date `gorm:"not null"`
	Duration           string         `gorm:"size:16;not null"`
	SpgAcn             string         `gorm:"size:9;not null;index:idx_registrations_vin_spg,priority:2"`
	SpgOrgName         string         `gorm:"size:75;not null"`
	CreatedAt          time.Time      `gorm:"not null"`
	UpdatedAt          time.Time
}

type UploadedFileModel struct {
	ID         string    `gorm:"primaryKey"`
	Hash       string    `gorm:"size:64;uniqueIndex;not null"`
	UploadedAt time.Time `gorm:"not null"`
}

type UploadTaskModel struct {
	ID               string `gorm:"primaryKey"`
	FileHash         string `gorm:"size:64;not null;index"`
	Status           string `gorm:"size:16;not null"`
	ErrorMessage     string
	SubmittedRecords int
	ProcessedRecords int
	InvalidRecords   int
	AddedRecords     int
	UpdatedRecords   int
	CreatedAt        time.Time `gorm:"not null"`
	CompletedAt      *time.Time
}
