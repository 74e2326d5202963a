package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"rag-tenant-go/internal/converter"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/internal/tenant"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/monitoring"
	"rag-tenant-go/pkg/tasks"
	"rag-tenant-go/pkg/tracing"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ObjectDownloader 将对象存储中的文件下载到本地路径。
type ObjectDownloader interface {
	DownloadToFile(ctx context.Context, objectPath, filePath string) error
}

// EnqueueResult 是异步索引请求的回执。
type EnqueueResult struct {
	TaskID string       `json:"task_id"`
	Status tasks.Status `json:"status"`
}

// IndexService 负责把对象存储中的文档写入租户集合。
type IndexService interface {
	Index(ctx context.Context, docID, objectPath string, identity model.TenantIdentity) (*model.IndexingResult, error)
	Enqueue(ctx context.Context, docID, objectPath string, identity model.TenantIdentity) (*EnqueueResult, error)
	TaskStatus(ctx context.Context, taskID string) (*tasks.JobStatus, error)
	tasks.Processor
}

type indexService struct {
	downloader ObjectDownloader
	converter  *converter.Converter
	registry   *tenant.Registry
	tracker    *tasks.Tracker
	producer   tasks.Producer
}

// NewIndexService 创建一个新的 IndexService 实例。producer 为 nil 时只支持同步索引。
func NewIndexService(
	downloader ObjectDownloader,
	conv *converter.Converter,
	registry *tenant.Registry,
	tracker *tasks.Tracker,
	producer tasks.Producer,
) IndexService {
	return &indexService{
		downloader: downloader,
		converter:  conv,
		registry:   registry,
		tracker:    tracker,
		producer:   producer,
	}
}

// Index 下载、转换并索引一个文档。
// 没有可索引的内容时返回 status=error 的结果而不是错误。
func (s *indexService) Index(ctx context.Context, docID, objectPath string, identity model.TenantIdentity) (result *model.IndexingResult, err error) {
	ctx, span := tracing.Start(ctx, "IndexService.Index",
		attribute.String("doc_id", docID),
		attribute.String("organization_id", identity.OrganizationID))
	start := time.Now()
	defer func() {
		tracing.End(span, err)
		status := "error"
		if err == nil && result != nil && result.Status == model.IndexingSuccess {
			status = "success"
			monitoring.IndexedChunks.Add(float64(result.ChunkCount))
		}
		monitoring.IndexingTotal.WithLabelValues(status).Inc()
		monitoring.IndexingDuration.Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(docID) == "" || strings.TrimSpace(objectPath) == "" {
		return nil, errs.Input("index", "doc_id and object_path are required")
	}
	if !identity.Valid() {
		return nil, errs.Input("index", "organization id is required")
	}
	log.Infof("[IndexService] 开始索引文档, doc_id: %s, object_path: %s, organization: %s", docID, objectPath, identity.OrganizationID)

	tmpFile, err := os.CreateTemp("", "rag-index-*"+filepath.Ext(objectPath))
	if err != nil {
		return nil, errs.Downstream("index.tempfile", err).With("doc_id", docID)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warnf("[IndexService] 删除临时文件失败, path: %s, error: %v", tmpPath, rmErr)
		}
	}()

	if err := s.downloader.DownloadToFile(ctx, objectPath, tmpPath); err != nil {
		log.Errorf("[IndexService] 下载文件失败, object_path: %s, error: %v", objectPath, err)
		return nil, errs.Downstream("index.download", err).
			With("doc_id", docID).
			With("object_path", objectPath)
	}

	docs := s.converter.Convert(ctx, tmpPath, docID, objectPath)
	for _, d := range docs {
		if d.Metadata[model.MetaConversionError] == "true" {
			log.Warnf("[IndexService] 文档转换失败，写入占位内容, doc_id: %s", docID)
			break
		}
	}

	coll, instance, err := s.registry.GetOrCreate(ctx, identity.OrganizationID)
	if err != nil {
		return nil, err
	}
	result = &model.IndexingResult{
		DocID:      docID,
		Tenant:     identity,
		Collection: coll.Name(),
	}
	if len(docs) == 0 {
		result.Status = model.IndexingError
		result.Message = "no content extracted from document"
		log.Warnf("[IndexService] 未提取到任何内容, doc_id: %s", docID)
		return result, nil
	}

	count, err := instance.Run(ctx, docs, identity)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		result.Status = model.IndexingError
		result.Message = "no chunks produced after cleaning"
		return result, nil
	}
	result.Status = model.IndexingSuccess
	result.ChunkCount = count
	result.Message = "indexed"
	log.Infof("[IndexService] 文档索引完成, doc_id: %s, collection: %s, chunks: %d", docID, coll.Name(), count)
	return result, nil
}

// Process 实现 tasks.Processor，供队列消费者调用。
// 输入错误与无内容的结果重试也不会改变，标记为永久失败。
func (s *indexService) Process(ctx context.Context, task tasks.IndexTask) error {
	identity := model.TenantIdentity{OrganizationID: task.OrganizationID, UserID: task.UserID}
	result, err := s.Index(ctx, task.DocID, task.ObjectPath, identity)
	if err != nil {
		if errs.Is(err, errs.KindInput) {
			return tasks.Permanent(err)
		}
		return err
	}
	if result.Status != model.IndexingSuccess {
		return tasks.Permanent(errors.New(result.Message))
	}
	return nil
}

// Enqueue 生成任务 ID，记录 queued 状态后投递到队列。
func (s *indexService) Enqueue(ctx context.Context, docID, objectPath string, identity model.TenantIdentity) (*EnqueueResult, error) {
	if strings.TrimSpace(docID) == "" || strings.TrimSpace(objectPath) == "" {
		return nil, errs.Input("index.enqueue", "doc_id and object_path are required")
	}
	if !identity.Valid() {
		return nil, errs.Input("index.enqueue", "organization id is required")
	}
	if s.producer == nil {
		return nil, errs.Configuration("index.enqueue", "task queue is not configured")
	}
	task := tasks.IndexTask{
		TaskID:         uuid.NewString(),
		DocID:          docID,
		ObjectPath:     objectPath,
		OrganizationID: identity.OrganizationID,
		UserID:         identity.UserID,
		EnqueuedAt:     time.Now(),
	}
	if s.tracker != nil {
		if err := s.tracker.SetStatus(ctx, task, tasks.StatusQueued, ""); err != nil {
			log.Warnf("[IndexService] 记录任务状态失败, task_id: %s, error: %v", task.TaskID, err)
		}
	}
	if err := s.producer.Produce(ctx, task); err != nil {
		log.Errorf("[IndexService] 投递索引任务失败, doc_id: %s, error: %v", docID, err)
		return nil, errs.Downstream("index.enqueue", err).With("doc_id", docID)
	}
	log.Infof("[IndexService] 索引任务已入队, task_id: %s, doc_id: %s", task.TaskID, docID)
	return &EnqueueResult{TaskID: task.TaskID, Status: tasks.StatusQueued}, nil
}

// TaskStatus 查询异步任务的状态。
func (s *indexService) TaskStatus(ctx context.Context, taskID string) (*tasks.JobStatus, error) {
	if s.tracker == nil {
		return nil, errs.Configuration("index.status", "task tracker is not configured")
	}
	return s.tracker.Get(ctx, taskID)
}
