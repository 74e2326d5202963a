package tasks

import (
	"context"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/monitoring"
	"time"
)

// Runner 执行任务并在进程内按指数退避重试。
// 执行次数记录在 Redis 中，消费者重启后沿用已有计数。
type Runner struct {
	processor  Processor
	tracker    *Tracker
	maxRetries int
	backoff    time.Duration
	transport  string
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRunner 创建任务执行器。transport 仅用于指标标签。
func NewRunner(processor Processor, tracker *Tracker, cfg config.QueueConfig, transport string) *Runner {
	return &Runner{
		processor:  processor,
		tracker:    tracker,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		transport:  transport,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff 返回第 retry 次重试前的等待时间：base * 2^(retry-1)。
func Backoff(base time.Duration, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	return base << (retry - 1)
}

// Run 执行任务直到成功、永久失败或重试耗尽，返回 nil 表示消息可以提交。
// 仅在 ctx 被取消时返回错误，此时消息不应提交。
func (r *Runner) Run(ctx context.Context, task IndexTask) error {
	maxAttempts := int64(r.maxRetries) + 1
	var local int64
	for {
		attempt, err := r.tracker.IncrAttempts(ctx, task.TaskID)
		if err != nil {
			// Redis 异常时退回进程内计数
			local++
			attempt = local
			log.Warnf("[TaskRunner] 记录任务执行次数失败, task_id: %s, error: %v", task.TaskID, err)
		}
		r.setStatus(ctx, task, StatusRunning, "")
		log.Infof("[TaskRunner] 开始执行索引任务, task_id: %s, doc_id: %s, attempt: %d/%d", task.TaskID, task.DocID, attempt, maxAttempts)

		err = r.processor.Process(ctx, task)
		if err == nil {
			monitoring.TaskAttempts.WithLabelValues(r.transport, "success").Inc()
			r.setStatus(ctx, task, StatusSuccess, "")
			log.Infof("[TaskRunner] 索引任务成功, task_id: %s", task.TaskID)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if IsPermanent(err) || attempt >= maxAttempts {
			monitoring.TaskAttempts.WithLabelValues(r.transport, "failed").Inc()
			r.setStatus(ctx, task, StatusFailed, err.Error())
			log.Errorf("[TaskRunner] 索引任务失败且不再重试, task_id: %s, attempts: %d, error: %v", task.TaskID, attempt, err)
			return nil
		}

		monitoring.TaskAttempts.WithLabelValues(r.transport, "retry").Inc()
		r.setStatus(ctx, task, StatusRetrying, err.Error())
		wait := Backoff(r.backoff, int(attempt))
		log.Warnf("[TaskRunner] 索引任务失败, %s 后重试, task_id: %s, error: %v", wait, task.TaskID, err)
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *Runner) setStatus(ctx context.Context, task IndexTask, status Status, errMsg string) {
	if err := r.tracker.SetStatus(ctx, task, status, errMsg); err != nil {
		log.Warnf("[TaskRunner] 更新任务状态失败, task_id: %s, error: %v", task.TaskID, err)
	}
}
