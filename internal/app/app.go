package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"vehicleregistry/internal/ingest"
	"vehicleregistry/pkg/domain"
	"vehicleregistry/pkg/queue"
	"vehicleregistry/pkg/storage"
	"vehicleregistry/pkg/store"
)

// Config holds runtime configuration.
type Config struct {
	DatabaseURL   string
	Store         store.Store           // overrides DatabaseURL when set
	Tasks         store.TaskStore       // optional task-status backend override
	Archive       storage.UploadArchive // optional raw-upload archive
	QueueCapacity int
	Workers       int
}

// uploadJob carries everything a worker needs to process one upload.
// No ambient scope: the bytes, the claimed hash, and the task ID travel
// with the job.
type uploadJob struct {
	taskID   string
	fileHash string
	data     []byte
}

// App wires the ingestion pipeline, the task queue, and the worker loops.
type App struct {
	files   store.FileHashStore
	regs    store.RegistrationStore
	tasks   store.TaskStore
	archive storage.UploadArchive
	queue   *queue.Queue[uploadJob]
	workers int
	group   *errgroup.Group
}

// New constructs the registration service with persistence.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	tasks := cfg.Tasks
	if tasks == nil {
		tasks = dataStore
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &App{
		files:   dataStore,
		regs:    dataStore,
		tasks:   tasks,
		archive: cfg.Archive,
		queue:   queue.New[uploadJob](cfg.QueueCapacity),
		workers: workers,
	}, nil
}

// Start launches the worker loops. Each loop runs one job at a time;
// the loops share the queue and may complete jobs out of submission order.
func (a *App) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	a.group = g
	for i := 0; i < a.workers; i++ {
		worker := i
		g.Go(func() error {
			a.runWorker(ctx, worker)
			return nil
		})
	}
}

// Shutdown stops the queue and waits for in-flight jobs to finish.
// Jobs still buffered in the queue are dropped.
func (a *App) Shutdown() {
	a.queue.Close()
	if a.group != nil {
		_ = a.group.Wait()
	}
}

// ProcessUpload ingests a file synchronously and returns its summary.
func (a *App) ProcessUpload(data []byte) (domain.UploadSummary, error) {
	return ingest.NewPipeline(a.files, a.regs).Ingest(data)
}

// SubmitUpload claims the file hash, archives the raw bytes, records a
// Pending task, and enqueues the job. Enqueue blocks while the queue is
// full, pushing backpressure onto the caller.
func (a *App) SubmitUpload(ctx context.Context, data []byte) (domain.UploadTask, error) {
	hash := ingest.ContentHash(data)
	exists, err := a.files.ExistsByHash(hash)
	if err != nil {
		return domain.UploadTask{}, fmt.Errorf("check file hash: %w", err)
	}
	if exists {
		slog.Warn("duplicate file upload detected", "hash", hash)
		return domain.UploadTask{}, domain.ErrDuplicateFile
	}
	if err := a.files.AddHash(hash); err != nil {
		return domain.UploadTask{}, err
	}
	if a.archive != nil {
		// Best effort: a missing archive copy never blocks ingestion.
		if err := a.archive.ArchiveCSV(ctx, hash, data); err != nil {
			slog.Warn("archiving upload failed", "hash", hash, "err", err)
		}
	}
	task, err := a.tasks.CreateTask(hash)
	if err != nil {
		return domain.UploadTask{}, fmt.Errorf("create upload task: %w", err)
	}
	job := uploadJob{taskID: task.ID, fileHash: hash, data: data}
	if err := a.queue.Enqueue(ctx, job); err != nil {
		_ = a.tasks.MarkTaskFailed(task.ID, "submission canceled before processing")
		return domain.UploadTask{}, err
	}
	return task, nil
}

// GetTaskStatus returns the current state of an upload task.
func (a *App) GetTaskStatus(id string) (domain.UploadTask, bool, error) {
	return a.tasks.GetTask(id)
}

// ErrNoArchive is returned when no upload archive is configured.
var ErrNoArchive = errors.New("upload archive not configured")

// ArchivedFileURL returns a time-limited download URL for the raw CSV that
// a task was created from.
func (a *App) ArchivedFileURL(ctx context.Context, taskID string) (string, bool, error) {
	if a.archive == nil {
		return "", false, ErrNoArchive
	}
	task, ok, err := a.tasks.GetTask(taskID)
	if err != nil || !ok {
		return "", ok, err
	}
	url, err := a.archive.PresignCSV(ctx, task.FileHash, 15*time.Minute)
	if err != nil {
		return "", true, fmt.Errorf("presign archived upload: %w", err)
	}
	return url, true, nil
}

// QueueLen reports the number of jobs waiting in the queue.
func (a *App) QueueLen() int {
	return a.queue.Len()
}

// runWorker dequeues jobs and executes each against a fresh pipeline.
// A job's failure is recorded on its task and never terminates the loop.
func (a *App) runWorker(ctx context.Context, id int) {
	slog.Info("csv worker started", "worker", id)
	for {
		job, ok := a.queue.Dequeue(ctx)
		if !ok {
			slog.Info("csv worker stopping", "worker", id)
			return
		}
		a.execute(job)
	}
}

func (a *App) execute(job uploadJob) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing upload", "taskId", job.taskID, "panic", r)
			_ = a.tasks.MarkTaskFailed(job.taskID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := a.tasks.MarkTaskProcessing(job.taskID); err != nil {
		slog.Error("mark task processing", "taskId", job.taskID, "err", err)
	}
	pipeline := ingest.NewPipeline(a.files, a.regs)
	summary, err := pipeline.Run(job.data)
	if err != nil {
		slog.Error("background upload failed", "taskId", job.taskID, "hash", job.fileHash, "err", err)
		_ = a.tasks.MarkTaskFailed(job.taskID, err.Error())
		return
	}
	if err := a.tasks.UpdateTaskSummary(job.taskID, summary); err != nil {
		slog.Error("record task summary", "taskId", job.taskID, "err", err)
	}
	if err := a.tasks.MarkTaskCompleted(job.taskID); err != nil {
		slog.Error("mark task completed", "taskId", job.taskID, "err", err)
	}
}
