// Package tasks 定义了投递到消息队列的索引任务，以及任务的重试与状态跟踪。
package tasks

import (
	"context"
	"errors"
	"time"
)

// IndexTask 是一次异步索引请求。
type IndexTask struct {
	TaskID         string    `json:"task_id"`
	DocID          string    `json:"doc_id"`
	ObjectPath     string    `json:"object_path"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Status 是任务的生命周期状态。
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusRetrying Status = "retrying"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// Processor 执行一个索引任务。
// 返回 Permanent 包装的错误表示无需重试。
type Processor interface {
	Process(ctx context.Context, task IndexTask) error
}

// Producer 将任务投递到队列。
type Producer interface {
	Produce(ctx context.Context, task IndexTask) error
	Close() error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记一个不应重试的错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误是否被标记为不可重试。
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
