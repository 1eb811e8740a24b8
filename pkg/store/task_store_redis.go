package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vehicleregistry/pkg/domain"
)

// RedisTaskStore keeps upload-task status in Redis hashes with a TTL.
// Registrations and file hashes still live in the primary store; this only
// offloads the high-churn polling reads.
type RedisTaskStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTaskStore connects to Redis. TTL <= 0 defaults to 24h.
func NewRedisTaskStore(addr, password string, ttl time.Duration) *RedisTaskStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTaskStore{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		ttl:    ttl,
	}
}

func (s *RedisTaskStore) CreateTask(fileHash string) (domain.UploadTask, error) {
	task := domain.UploadTask{
		ID:        uuid.NewString(),
		FileHash:  fileHash,
		Status:    domain.TaskPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.writeTask(task); err != nil {
		return domain.UploadTask{}, err
	}
	return task, nil
}

func (s *RedisTaskStore) GetTask(id string) (domain.UploadTask, bool, error) {
	ctx := context.Background()
	data, err := s.client.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return domain.UploadTask{}, false, err
	}
	if len(data) == 0 {
		return domain.UploadTask{}, false, nil
	}
	return decodeTask(id, data), true, nil
}

func (s *RedisTaskStore) MarkTaskProcessing(id string) error {
	return s.mutateTask(id, func(task *domain.UploadTask) {
		task.Status = domain.TaskProcessing
	})
}

func (s *RedisTaskStore) UpdateTaskSummary(id string, summary domain.UploadSummary) error {
	return s.mutateTask(id, func(task *domain.UploadTask) {
		task.UploadSummary = summary
	})
}

func (s *RedisTaskStore) MarkTaskCompleted(id string) error {
	return s.mutateTask(id, func(task *domain.UploadTask) {
		now := time.Now().UTC()
		task.Status = domain.TaskCompleted
		task.CompletedAt = &now
	})
}

func (s *RedisTaskStore) MarkTaskFailed(id string, errMsg string) error {
	return s.mutateTask(id, func(task *domain.UploadTask) {
		task.Status = domain.TaskFailed
		task.ErrorMessage = errMsg
	})
}

// mutateTask reads, applies, and writes back. Unknown IDs are a no-op.
func (s *RedisTaskStore) mutateTask(id string, apply func(*domain.UploadTask)) error {
	task, ok, err := s.GetTask(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	apply(&task)
	return s.writeTask(task)
}

func (s *RedisTaskStore) writeTask(task domain.UploadTask) error {
	ctx := context.Background()
	key := taskKey(task.ID)
	payload := map[string]any{
		"fileHash":  task.FileHash,
		"status":    string(task.Status),
		"error":     task.ErrorMessage,
		"submitted": strconv.Itoa(task.Submitted),
		"processed": strconv.Itoa(task.Processed),
		"invalid":   strconv.Itoa(task.Invalid),
		"added":     strconv.Itoa(task.Added),
		"updated":   strconv.Itoa(task.Updated),
		"createdAt": task.CreatedAt.Format(time.RFC3339Nano),
	}
	if task.CompletedAt != nil {
		payload["completedAt"] = task.CompletedAt.Format(time.RFC3339Nano)
	}
	if err := s.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = s.client.Expire(ctx, key, s.ttl).Err()
	return nil
}

func taskKey(id string) string {
	return fmt.Sprintf("uploadtask:%s", id)
}

func decodeTask(id string, data map[string]string) domain.UploadTask {
	task := domain.UploadTask{ID: id}
	task.FileHash = data["fileHash"]
	task.Status = domain.TaskStatus(data["status"])
	task.ErrorMessage = data["error"]
	task.Submitted = atoiField(data, "submitted")
	task.Processed = atoiField(data, "processed")
	task.Invalid = atoiField(data, "invalid")
	task.Added = atoiField(data, "added")
	task.Updated = atoiField(data, "updated")
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			task.CreatedAt = t
		}
	}
	if v := data["completedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			task.CompletedAt = &t
		}
	}
	return task
}

func atoiField(data map[string]string, field string) int {
	n, _ := strconv.Atoi(data[field])
	return n
}
