package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"vehicleregistry/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and by the dev
// profile when no database URL is configured. One mutex serializes all
// access, which also serializes conflicting writes across concurrent jobs.
type MemoryStore struct {
	mu      sync.RWMutex
	writeMu sync.Mutex // serializes registration units end to end
	hashes  map[string]domain.UploadedFile
	regs    map[string]domain.VehicleRegistration
	order   []string // registration IDs in insertion order
	tasks   map[string]domain.UploadTask
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes: make(map[string]domain.UploadedFile),
		regs:   make(map[string]domain.VehicleRegistration),
		tasks:  make(map[string]domain.UploadTask),
	}
}

func (m *MemoryStore) ExistsByHash(hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.hashes[hash]
	return ok, nil
}

func (m *MemoryStore) AddHash(hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[hash]; ok {
		return domain.ErrDuplicateFile
	}
	m.hashes[hash] = domain.UploadedFile{
		ID:         uuid.NewString(),
		Hash:       hash,
		UploadedAt: time.Now().UTC(),
	}
	return nil
}

// Begin returns a unit that applies writes directly under the store mutex.
// Units run one at a time: Begin blocks until the previous unit finishes,
// which gives concurrent ingestion runs on the same VIN a defined order.
func (m *MemoryStore) Begin() (RegistrationUnit, error) {
	m.writeMu.Lock()
	return &memoryRegistrationUnit{store: m}, nil
}

func (m *MemoryStore) RegistrationCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.regs)), nil
}

// Registrations returns all registrations in insertion order.
func (m *MemoryStore) Registrations() []domain.VehicleRegistration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.VehicleRegistration, 0, len(m.order))
	for _, id := range m.order {
		if r, ok := m.regs[id]; ok {
			res = append(res, r)
		}
	}
	return res
}

type memoryRegistrationUnit struct {
	store *MemoryStore
	done  bool
}

// finish releases the unit's serialization slot exactly once.
func (u *memoryRegistrationUnit) finish() {
	if !u.done {
		u.done = true
		u.store.writeMu.Unlock()
	}
}

func (u *memoryRegistrationUnit) FindByIdentity(fullName, vin, spgAcn string) (domain.VehicleRegistration, bool, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	for _, id := range u.store.order {
		r, ok := u.store.regs[id]
		if !ok {
			continue
		}
		if r.VIN == vin && r.SpgAcn == spgAcn && r.FullName() == fullName {
			return r, true, nil
		}
	}
	return domain.VehicleRegistration{}, false, nil
}

func (u *memoryRegistrationUnit) FindByVIN(vin string) (domain.VehicleRegistration, bool, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	for _, id := range u.store.order {
		r, ok := u.store.regs[id]
		if !ok {
			continue
		}
		if r.VIN == vin {
			return r, true, nil
		}
	}
	return domain.VehicleRegistration{}, false, nil
}

func (u *memoryRegistrationUnit) Add(reg domain.VehicleRegistration) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if _, exists := u.store.regs[reg.ID]; !exists {
		u.store.order = append(u.store.order, reg.ID)
	}
	u.store.regs[reg.ID] = reg
	return nil
}

func (u *memoryRegistrationUnit) Update(reg domain.VehicleRegistration) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if _, ok := u.store.regs[reg.ID]; !ok {
		return nil
	}
	u.store.regs[reg.ID] = reg
	return nil
}

// Commit releases the run's slot. Writes were applied eagerly, so there is
// nothing further to flush.
func (u *memoryRegistrationUnit) Commit() error {
	u.finish()
	return nil
}

// Rollback releases the slot without undoing applied writes. The pipeline
// only rolls back when Commit already failed, which cannot happen here.
func (u *memoryRegistrationUnit) Rollback() error {
	u.finish()
	return nil
}

func (m *MemoryStore) CreateTask(fileHash string) (domain.UploadTask, error) {
	task := domain.UploadTask{
		ID:        uuid.NewString(),
		FileHash:  fileHash,
		Status:    domain.TaskPending,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()
	return task, nil
}

func (m *MemoryStore) GetTask(id string) (domain.UploadTask, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	return task, ok, nil
}

func (m *MemoryStore) MarkTaskProcessing(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil
	}
	task.Status = domain.TaskProcessing
	m.tasks[id] = task
	return nil
}

func (m *MemoryStore) UpdateTaskSummary(id string, summary domain.UploadSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil
	}
	task.UploadSummary = summary
	m.tasks[id] = task
	return nil
}

func (m *MemoryStore) MarkTaskCompleted(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	task.Status = domain.TaskCompleted
	task.CompletedAt = &now
	m.tasks[id] = task
	return nil
}

func (m *MemoryStore) MarkTaskFailed(id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil
	}
	task.Status = domain.TaskFailed
	task.ErrorMessage = errMsg
	m.tasks[id] = task
	return nil
}
