package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"vehicleregistry/pkg/domain"
)

const migrateLockID int64 = 52310758

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&RegistrationModel{}, &UploadedFileModel{}, &UploadTaskModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// ExistsByHash reports whether a file with this content hash was accepted before.
func (s *GormStore) ExistsByHash(hash string) (bool, error) {
	var count int64
	if err := s.db.Model(&UploadedFileModel{}).Where("hash = ?", hash).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddHash claims a content hash. A concurrent claim of the same hash loses
// against the unique index and surfaces as domain.ErrDuplicateFile.
func (s *GormStore) AddHash(hash string) error {
	model := UploadedFileModel{
		ID:         uuid.NewString(),
		Hash:       hash,
		UploadedAt: time.Now().UTC(),
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrDuplicateFile
	}
	return nil
}

// Begin starts a registration unit backed by one DB transaction.
func (s *GormStore) Begin() (RegistrationUnit, error) {
	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin tx: %w", tx.Error)
	}
	return &gormRegistrationUnit{tx: tx}, nil
}

// RegistrationCount returns the number of stored registrations.
func (s *GormStore) RegistrationCount() (int64, error) {
	var count int64
	if err := s.db.Model(&RegistrationModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

type gormRegistrationUnit struct {
	tx *gorm.DB
}

// lockVIN serializes concurrent transactions working on the same VIN. The
// lock is held to the end of the transaction; pg_advisory_xact_lock is
// reentrant within one transaction, so taking it again later is safe.
func (u *gormRegistrationUnit) lockVIN(vin string) error {
	if err := u.tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", vin).Error; err != nil {
		return fmt.Errorf("lock vin: %w", err)
	}
	return nil
}

// FindByIdentity matches on VIN + SPG ACN and compares the grantor full
// name in Go so that lookup and write paths share domain.FullName. It
// takes the per-VIN lock before reading so that the read-then-write
// sequence of one record cannot interleave with another transaction on
// the same VIN; the loser's read then observes the winner's commit.
func (u *gormRegistrationUnit) FindByIdentity(fullName, vin, spgAcn string) (domain.VehicleRegistration, bool, error) {
	if err := u.lockVIN(vin); err != nil {
		return domain.VehicleRegistration{}, false, err
	}
	var models []RegistrationModel
	if err := u.tx.Where("vin = ? AND spg_acn = ?", vin, spgAcn).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return domain.VehicleRegistration{}, false, err
	}
	for _, m := range models {
		reg := registrationFromModel(m)
		if reg.FullName() == fullName {
			return reg, true, nil
		}
	}
	return domain.VehicleRegistration{}, false, nil
}

func (u *gormRegistrationUnit) FindByVIN(vin string) (domain.VehicleRegistration, bool, error) {
	var model RegistrationModel
	if err := u.tx.Where("vin = ?", vin).Order("created_at ASC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.VehicleRegistration{}, false, nil
		}
		return domain.VehicleRegistration{}, false, err
	}
	return registrationFromModel(model), true, nil
}

// Add inserts a new registration under the per-VIN lock.
func (u *gormRegistrationUnit) Add(reg domain.VehicleRegistration) error {
	if err := u.lockVIN(reg.VIN); err != nil {
		return err
	}
	model := registrationToModel(reg)
	return u.tx.Create(&model).Error
}

func (u *gormRegistrationUnit) Update(reg domain.VehicleRegistration) error {
	return u.tx.Model(&RegistrationModel{}).
		Where("id = ?", reg.ID).
		Updates(map[string]any{
			"grantor_first_name":   reg.GrantorFirstName,
			"grantor_middle_names": reg.GrantorMiddleNames,
			"grantor_last_name":    reg.GrantorLastName,
			"start_date":           datatypes.Date(reg.StartDate),
			"duration":             string(reg.Duration),
			"spg_acn":              reg.SpgAcn,
			"spg_org_name":         reg.SpgOrgName,
			"updated_at":           time.Now().UTC(),
		}).Error
}

func (u *gormRegistrationUnit) Commit() error {
	return u.tx.Commit().Error
}

func (u *gormRegistrationUnit) Rollback() error {
	return u.tx.Rollback().Error
}

// CreateTask records a new upload task in Pending state.
func (s *GormStore) CreateTask(fileHash string) (domain.UploadTask, error) {
	model := UploadTaskModel{
		ID:        uuid.NewString(),
		FileHash:  fileHash,
		Status:    string(domain.TaskPending),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.UploadTask{}, err
	}
	return taskFromModel(model), nil
}

func (s *GormStore) GetTask(id string) (domain.UploadTask, bool, error) {
	var model UploadTaskModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UploadTask{}, false, nil
		}
		return domain.UploadTask{}, false, err
	}
	return taskFromModel(model), true, nil
}

// MarkTaskProcessing moves a task out of Pending once a worker picks it up.
// Unknown IDs update zero rows and are not an error.
func (s *GormStore) MarkTaskProcessing(id string) error {
	return s.db.Model(&UploadTaskModel{}).
		Where("id = ?", id).
		Update("status", string(domain.TaskProcessing)).Error
}

// UpdateTaskSummary stores the run counters.
func (s *GormStore) UpdateTaskSummary(id string, summary domain.UploadSummary) error {
	return s.db.Model(&UploadTaskModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"submitted_records": summary.Submitted,
			"processed_records": summary.Processed,
			"invalid_records":   summary.Invalid,
			"added_records":     summary.Added,
			"updated_records":   summary.Updated,
		}).Error
}

func (s *GormStore) MarkTaskCompleted(id string) error {
	now := time.Now().UTC()
	return s.db.Model(&UploadTaskModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       string(domain.TaskCompleted),
			"completed_at": &now,
		}).Error
}

func (s *GormStore) MarkTaskFailed(id string, errMsg string) error {
	return s.db.Model(&UploadTaskModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(domain.TaskFailed),
			"error_message": errMsg,
		}).Error
}

func registrationToModel(r domain.VehicleRegistration) RegistrationModel {
	return RegistrationModel{
		ID:                 r.ID,
		GrantorFirstName:   r.GrantorFirstName,
		GrantorMiddleNames: r.GrantorMiddleNames,
		GrantorLastName:    r.GrantorLastName,
		VIN:                r.VIN,
		StartDate:          datatypes.Date(r.StartDate),
		Duration:           string(r.Duration),
		SpgAcn:             r.SpgAcn,
		SpgOrgName:         r.SpgOrgName,
	}
}

func registrationFromModel(m RegistrationModel) domain.VehicleRegistration {
	return domain.VehicleRegistration{
		ID:                 m.ID,
		GrantorFirstName:   m.GrantorFirstName,
		GrantorMiddleNames: m.GrantorMiddleNames,
		GrantorLastName:    m.GrantorLastName,
		VIN:                m.VIN,
		StartDate:          time.Time(m.StartDate),
		Duration:           domain.Duration(m.Duration),
		SpgAcn:             m.SpgAcn,
		SpgOrgName:         m.SpgOrgName,
	}
}

func taskFromModel(m UploadTaskModel) domain.UploadTask {
	return domain.UploadTask{
		ID:           m.ID,
		FileHash:     m.FileHash,
		Status:       domain.TaskStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		UploadSummary: domain.UploadSummary{
			Submitted: m.SubmittedRecords,
			Processed: m.ProcessedRecords,
			Invalid:   m.InvalidRecords,
			Added:     m.AddedRecords,
			Updated:   m.UpdatedRecords,
		},
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
}
