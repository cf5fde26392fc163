package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jimmychuckball/pythonmap/scanner"
)

const queueKey = "scans:queue"

// TaskStore defines persistence operations for scan tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *ScanTask) error
	GetTask(ctx context.Context, id string) (*ScanTask, error)
	UpdateTask(ctx context.Context, task *ScanTask) error
	UpdateProgress(ctx context.Context, id string, progress scanner.Progress) error
	PushToQueue(ctx context.Context, taskID string) error
	PopFromQueue(ctx context.Context, timeout time.Duration) (string, error)
	Ping(ctx context.Context) error
}

var (
	// ErrTaskNotFound indicates the requested task doesn't exist in the store.
	ErrTaskNotFound = errors.New("task not found")
	// ErrQueueEmpty is returned by PopFromQueue when nothing arrived in time.
	ErrQueueEmpty = errors.New("queue empty")
)

// RedisStore implements TaskStore using Redis as backend.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed task store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) taskKey(id string) string {
	return fmt.Sprintf("scan:%s", id)
}

// CreateTask persists a new scan task in Redis.
func (s *RedisStore) CreateTask(ctx context.Context, task *ScanTask) error {
	data, err := serializeTask(task)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.taskKey(task.ID), data).Err()
}

// GetTask retrieves a task by ID.
func (s *RedisStore) GetTask(ctx context.Context, id string) (*ScanTask, error) {
	res, err := s.client.HGetAll(ctx, s.taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrTaskNotFound
	}
	return deserializeTask(res)
}

// UpdateTask overwrites every field of an existing task.
func (s *RedisStore) UpdateTask(ctx context.Context, task *ScanTask) error {
	data, err := serializeTask(task)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.taskKey(task.ID), data).Err()
}

// UpdateProgress writes only the progress fields of a task.
func (s *RedisStore) UpdateProgress(ctx context.Context, id string, progress scanner.Progress) error {
	return s.client.HSet(ctx, s.taskKey(id), progressFields(progress)).Err()
}

// PushToQueue enqueues a task ID for workers to process.
func (s *RedisStore) PushToQueue(ctx context.Context, taskID string) error {
	return s.client.LPush(ctx, queueKey, taskID).Err()
}

// PopFromQueue blocks up to timeout for a task ID. It returns ErrQueueEmpty
// when the wait expires.
func (s *RedisStore) PopFromQueue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := s.client.BRPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrQueueEmpty
	}
	if err != nil {
		return "", err
	}
	if len(res) != 2 {
		return "", errors.New("unexpected response size from BRPOP")
	}
	return res[1], nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func progressFields(p scanner.Progress) map[string]interface{} {
	return map[string]interface{}{
		"completed": p.Completed,
		"total":     p.Total,
		"percent":   strconv.FormatFloat(p.Percent, 'f', 2, 64),
	}
}

func serializeTask(task *ScanTask) (map[string]interface{}, error) {
	policy, err := json.Marshal(task.Policy)
	if err != nil {
		return nil, err
	}

	var resultsData string
	if task.Results != nil {
		encoded, err := json.Marshal(task.Results)
		if err != nil {
			return nil, err
		}
		resultsData = string(encoded)
	}

	createdAt := task.CreatedAt.Format(time.RFC3339Nano)
	completedAt := ""
	if task.CompletedAt != nil {
		completedAt = task.CompletedAt.Format(time.RFC3339Nano)
	}

	data := map[string]interface{}{
		"id":           task.ID,
		"status":       task.Status,
		"host":         task.Host,
		"ports":        task.Ports,
		"policy":       string(policy),
		"results":      resultsData,
		"created_at":   createdAt,
		"completed_at": completedAt,
		"error":        task.Error,
	}
	for k, v := range progressFields(task.Progress) {
		data[k] = v
	}
	return data, nil
}

func deserializeTask(data map[string]string) (*ScanTask, error) {
	var policy TaskPolicy
	if raw, ok := data["policy"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &policy); err != nil {
			return nil, err
		}
	}

	var results []scanner.ScanResult
	if raw, ok := data["results"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &results); err != nil {
			return nil, err
		}
	}

	createdAt := time.Time{}
	if raw, ok := data["created_at"]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, err
		}
		createdAt = t
	}

	var completedAt *time.Time
	if raw, ok := data["completed_at"]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, err
		}
		completedAt = &t
	}

	progress, err := parseProgress(data)
	if err != nil {
		return nil, err
	}

	task := &ScanTask{
		ID:          data["id"],
		Status:      data["status"],
		Host:        data["host"],
		Ports:       data["ports"],
		Policy:      policy,
		Progress:    progress,
		Results:     results,
		CreatedAt:   createdAt,
		CompletedAt: completedAt,
		Error:       data["error"],
	}

	return task, nil
}

func parseProgress(data map[string]string) (scanner.Progress, error) {
	var p scanner.Progress
	var err error
	if raw := data["completed"]; raw != "" {
		if p.Completed, err = strconv.Atoi(raw); err != nil {
			return p, fmt.Errorf("completed: %w", err)
		}
	}
	if raw := data["total"]; raw != "" {
		if p.Total, err = strconv.Atoi(raw); err != nil {
			return p, fmt.Errorf("total: %w", err)
		}
	}
	if raw := data["percent"]; raw != "" {
		if p.Percent, err = strconv.ParseFloat(raw, 64); err != nil {
			return p, fmt.Errorf("percent: %w", err)
		}
	}
	return p, nil
}
