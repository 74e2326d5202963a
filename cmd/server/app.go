package main

import (
	"context"
	"database/sql"
	"fmt"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/converter"
	"rag-tenant-go/internal/service"
	"rag-tenant-go/internal/sqlguard"
	"rag-tenant-go/internal/tenant"
	"rag-tenant-go/pkg/database"
	"rag-tenant-go/pkg/embedding"
	"rag-tenant-go/pkg/kafka"
	"rag-tenant-go/pkg/llm"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/natsq"
	"rag-tenant-go/pkg/storage"
	"rag-tenant-go/pkg/tasks"
	"rag-tenant-go/pkg/tika"
	"rag-tenant-go/pkg/tracing"
	"rag-tenant-go/pkg/vectorstore"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
)

// app 持有一个进程内全部已装配的组件。
type app struct {
	cfg      config.Config
	store    vectorstore.Store
	registry *tenant.Registry
	objects  *storage.ObjectStore
	db       *sql.DB
	rdb      *redis.Client
	nc       *nats.Conn
	producer tasks.Producer
	tracker  *tasks.Tracker

	query  service.QueryService
	index  service.IndexService
	upload service.UploadService
	admin  service.AdminService

	shutdownTracing func(context.Context) error
}

// buildApp 按依赖顺序初始化各组件，任何一步失败都会释放已创建的资源。
func buildApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	if a.shutdownTracing, err = tracing.Init(ctx, cfg.Tracing); err != nil {
		return nil, err
	}

	// 1. 向量库与模型客户端
	if a.store, err = vectorstore.New(cfg.VectorStore); err != nil {
		return nil, err
	}
	embedder := embedding.NewClient(cfg.Embedding, cfg.Breaker)
	llmClient := llm.NewClient(cfg.LLM, cfg.Breaker)

	if a.registry, err = tenant.NewRegistry(cfg, a.store, embedder); err != nil {
		return nil, err
	}

	// 2. 结构化查询后端
	var semantic llm.Generator
	if cfg.SQL.SemanticCheck {
		semantic = llmClient
	}
	validator := sqlguard.New(semantic)
	if a.db, err = database.OpenSQL(cfg.SQL); err != nil {
		return nil, err
	}
	executor := database.NewExecutor(a.db, cfg.SQL.MaxRows, cfg.SQL.Timeout)

	// 3. 对象存储与文档转换
	if a.objects, err = storage.NewMinIO(ctx, cfg.MinIO); err != nil {
		return nil, err
	}
	var office converter.OfficeExtractor
	if tc := tika.NewClient(cfg.Tika); tc != nil {
		office = tc
	}
	conv := converter.New(office)

	// 4. 任务队列
	if a.rdb, err = database.NewRedis(cfg.Redis); err != nil {
		return nil, err
	}
	a.tracker = tasks.NewTracker(a.rdb)
	switch cfg.Queue.Backend {
	case "kafka":
		a.producer = kafka.NewProducer(cfg.Kafka)
	case "nats":
		if a.nc, err = natsq.Connect(cfg.NATS); err != nil {
			return nil, err
		}
		a.producer = natsq.NewProducer(a.nc, cfg.NATS)
	default:
		return nil, fmt.Errorf("不支持的队列后端: %q", cfg.Queue.Backend)
	}

	// 5. 业务服务
	a.query = service.NewQueryService(a.registry, embedder, llmClient, validator, executor, cfg)
	a.index = service.NewIndexService(a.objects, conv, a.registry, a.tracker, a.producer)
	a.upload = service.NewUploadService(a.objects, cfg.MinIO.UploadURLExpiry)
	a.admin = service.NewAdminService(a.registry, a.objects)
	log.Infof("组件初始化完成, vectorstore: %s, queue: %s, sql: %s", cfg.VectorStore.Backend, cfg.Queue.Backend, cfg.SQL.Driver)
	return a, nil
}

// runConsumer 阻塞消费索引任务直到 ctx 取消。
func (a *app) runConsumer(ctx context.Context) error {
	runner := tasks.NewRunner(a.index, a.tracker, a.cfg.Queue, a.cfg.Queue.Backend)
	if a.cfg.Queue.Backend == "nats" {
		return natsq.StartConsumer(ctx, a.nc, a.cfg.NATS, runner)
	}
	return kafka.StartConsumer(ctx, a.cfg.Kafka, runner)
}

func (a *app) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			log.Warnf("关闭任务生产者失败: %v", err)
		}
	} else if a.nc != nil {
		a.nc.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			log.Warnf("关闭链路追踪失败: %v", err)
		}
	}
}
