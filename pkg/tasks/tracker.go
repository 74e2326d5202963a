package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrTaskNotFound 表示任务状态不存在或已过期。
var ErrTaskNotFound = errors.New("task not found")

const stateTTL = 24 * time.Hour

// JobStatus 是任务状态的快照。
type JobStatus struct {
	TaskID         string    `json:"task_id"`
	DocID          string    `json:"doc_id"`
	OrganizationID string    `json:"organization_id"`
	Status         Status    `json:"status"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Tracker 使用 Redis 记录任务状态与失败次数，两者都在 24 小时后过期。
type Tracker struct {
	rdb *redis.Client
}

// NewTracker 创建任务跟踪器。
func NewTracker(rdb *redis.Client) *Tracker {
	return &Tracker{rdb: rdb}
}

func statusKey(taskID string) string   { return fmt.Sprintf("rag:task:%s", taskID) }
func attemptsKey(taskID string) string { return fmt.Sprintf("rag:task:attempts:%s", taskID) }

// SetStatus 写入任务状态，errMsg 为空时清除上一次的错误信息。
func (t *Tracker) SetStatus(ctx context.Context, task IndexTask, status Status, errMsg string) error {
	key := statusKey(task.TaskID)
	pipe := t.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"task_id", task.TaskID,
		"doc_id", task.DocID,
		"organization_id", task.OrganizationID,
		"status", string(status),
		"error", errMsg,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入任务状态失败: %w", err)
	}
	return nil
}

// Get 读取任务状态。
func (t *Tracker) Get(ctx context.Context, taskID string) (*JobStatus, error) {
	fields, err := t.rdb.HGetAll(ctx, statusKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取任务状态失败: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrTaskNotFound
	}
	js := &JobStatus{
		TaskID:         fields["task_id"],
		DocID:          fields["doc_id"],
		OrganizationID: fields["organization_id"],
		Status:         Status(fields["status"]),
		Error:          fields["error"],
	}
	js.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	n, err := t.Attempts(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("读取任务执行次数失败: %w", err)
	}
	js.Attempts = int(n)
	return js, nil
}

// IncrAttempts 将任务的执行次数加一并返回最新值。
func (t *Tracker) IncrAttempts(ctx context.Context, taskID string) (int64, error) {
	key := attemptsKey(taskID)
	n, err := t.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = t.rdb.Expire(ctx, key, stateTTL).Err()
	return n, nil
}

// Attempts 返回已记录的执行次数。
func (t *Tracker) Attempts(ctx context.Context, taskID string) (int64, error) {
	v, err := t.rdb.Get(ctx, attemptsKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}
