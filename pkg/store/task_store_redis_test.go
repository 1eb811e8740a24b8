package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"vehicleregistry/pkg/domain"
)

func newRedisTaskStore(t *testing.T) *RedisTaskStore {
	t.Helper()
	srv := miniredis.RunT(t)
	return NewRedisTaskStore(srv.Addr(), "", time.Hour)
}

func TestRedisTaskStoreLifecycle(t *testing.T) {
	s := newRedisTaskStore(t)

	task, err := s.CreateTask("hash-1")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID == "" || task.Status != domain.TaskPending {
		t.Fatalf("task = %+v", task)
	}

	got, ok, err := s.GetTask(task.ID)
	if err != nil || !ok {
		t.Fatalf("get task: ok=%v err=%v", ok, err)
	}
	if got.FileHash != "hash-1" || got.Status != domain.TaskPending {
		t.Fatalf("task = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("createdAt not persisted")
	}

	if err := s.MarkTaskProcessing(task.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	summary := domain.UploadSummary{Submitted: 5, Processed: 4, Invalid: 1, Added: 3, Updated: 1}
	if err := s.UpdateTaskSummary(task.ID, summary); err != nil {
		t.Fatalf("update summary: %v", err)
	}
	if err := s.MarkTaskCompleted(task.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	got, ok, err = s.GetTask(task.ID)
	if err != nil || !ok {
		t.Fatalf("reload task: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.TaskCompleted {
		t.Fatalf("status = %s, want Completed", got.Status)
	}
	if got.UploadSummary != summary {
		t.Fatalf("summary = %+v, want %+v", got.UploadSummary, summary)
	}
	if got.CompletedAt == nil {
		t.Fatalf("completedAt not persisted")
	}
}

func TestRedisTaskStoreFailure(t *testing.T) {
	s := newRedisTaskStore(t)

	task, err := s.CreateTask("hash-2")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := s.MarkTaskFailed(task.ID, "CSV must contain at least one data row"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, ok, err := s.GetTask(task.ID)
	if err != nil || !ok {
		t.Fatalf("get task: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.TaskFailed {
		t.Fatalf("status = %s, want Failed", got.Status)
	}
	if got.ErrorMessage != "CSV must contain at least one data row" {
		t.Fatalf("error = %q", got.ErrorMessage)
	}
}

func TestRedisTaskStoreUnknownID(t *testing.T) {
	s := newRedisTaskStore(t)

	if _, ok, err := s.GetTask("missing"); err != nil || ok {
		t.Fatalf("get missing: ok=%v err=%v", ok, err)
	}
	if err := s.MarkTaskCompleted("missing"); err != nil {
		t.Fatalf("mark completed on missing: %v", err)
	}
	if _, ok, _ := s.GetTask("missing"); ok {
		t.Fatalf("no-op update must not create a task")
	}
}
