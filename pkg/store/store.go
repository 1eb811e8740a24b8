package store

import (
	"vehicleregistry/pkg/domain"
)

// FileHashStore remembers the content hash of every accepted upload.
type FileHashStore interface {
	ExistsByHash(hash string) (bool, error)
	AddHash(hash string) error
}

// RegistrationUnit is one ingestion run's view of the registration store.
// Reads observe writes made earlier in the same unit; Commit makes the
// accumulated mutations durable in a single step.
type RegistrationUnit interface {
	FindByIdentity(fullName, vin, spgAcn string) (domain.VehicleRegistration, bool, error)
	FindByVIN(vin string) (domain.VehicleRegistration, bool, error)
	Add(reg domain.VehicleRegistration) error
	Update(reg domain.VehicleRegistration) error
	Commit() error
	Rollback() error
}

// RegistrationStore hands out registration units, one per ingestion run.
type RegistrationStore interface {
	Begin() (RegistrationUnit, error)
	RegistrationCount() (int64, error)
}

// TaskStore tracks upload-task lifecycle. Updates for an unknown task ID
// are no-ops; callers check existence through GetTask.
type TaskStore interface {
	CreateTask(fileHash string) (domain.UploadTask, error)
	GetTask(id string) (domain.UploadTask, bool, error)
	MarkTaskProcessing(id string) error
	UpdateTaskSummary(id string, summary domain.UploadSummary) error
	MarkTaskCompleted(id string) error
	MarkTaskFailed(id string, errMsg string) error
}

// Store combines the persistence contracts consumed by the ingestion core.
type Store interface {
	FileHashStore
	RegistrationStore
	TaskStore
}
