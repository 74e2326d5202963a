// Package natsq 通过 NATS 队列组投递与消费索引任务。
package natsq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/tasks"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect 连接 NATS 服务器，断线后自动重连。
func Connect(cfg config.NATSConfig) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("rag-tenant-go"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	log.Infof("NATS 已连接: %s", nc.ConnectedUrl())
	return nc, nil
}

// Producer 将索引任务发布到 NATS 主题。
type Producer struct {
	nc      *nats.Conn
	subject string
}

// NewProducer 创建生产者。
func NewProducer(nc *nats.Conn, cfg config.NATSConfig) *Producer {
	return &Producer{nc: nc, subject: cfg.Subject}
}

// Produce 发布一个任务并等待服务器确认写入缓冲。
func (p *Producer) Produce(ctx context.Context, task tasks.IndexTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("发布 NATS 消息失败: %w", err)
	}
	return p.nc.FlushWithContext(ctx)
}

// Close 排空并关闭连接。
func (p *Producer) Close() error {
	return p.nc.Drain()
}

// StartConsumer 以队列组方式订阅任务主题，同组内每条消息只投递给一个消费者。
// ctx 取消时返回。
func StartConsumer(ctx context.Context, nc *nats.Conn, cfg config.NATSConfig, runner *tasks.Runner) error {
	sub, err := nc.QueueSubscribeSync(cfg.Subject, cfg.QueueGroup)
	if err != nil {
		return fmt.Errorf("订阅 NATS 主题失败: %w", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()
	log.Infof("NATS 消费者已启动，subject: %s, queue: %s", cfg.Subject, cfg.QueueGroup)

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("读取 NATS 消息失败: %w", err)
		}

		var task tasks.IndexTask
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			log.Errorf("无法解析 NATS 消息: %v, value: %s", err, string(msg.Data))
			continue
		}
		if err := runner.Run(ctx, task); err != nil {
			log.Warnf("索引任务被中断, task_id: %s: %v", task.TaskID, err)
			return nil
		}
	}
}
