// Package vectorstore 提供按租户集合读写向量的后端抽象及其实现。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/model"
)

// ErrCollectionNotFound 表示集合不存在。
var ErrCollectionNotFound = errors.New("collection not found")

// Filter 是元数据精确匹配条件，所有键值需同时满足。
type Filter map[string]string

// Store 定义了向量库后端需要提供的能力。
type Store interface {
	// CreateCollection 创建集合，集合已存在时返回 created=false。
	CreateCollection(ctx context.Context, name string, dim int) (created bool, err error)
	// Upsert 按分块 ID 覆盖写入。
	Upsert(ctx context.Context, collection string, chunks []model.Chunk) error
	// DeleteByFilter 删除满足过滤条件的分块，chunk_id 在 keep 中的分块保留。
	DeleteByFilter(ctx context.Context, collection string, filter Filter, keep ...string) error
	// Query 返回与向量最相近的 topK 个分块，集合为空时返回空结果。
	Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]model.ScoredChunk, error)
	// Info 返回集合的点数与已索引向量数。
	Info(ctx context.Context, collection string) (model.CollectionInfo, error)
	Close() error
}

// New 根据配置创建向量库后端。
func New(cfg config.VectorStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "es":
		return NewElasticsearch(cfg)
	case "qdrant":
		return NewQdrant(cfg)
	case "memory":
		return NewMemory(cfg)
	default:
		return nil, fmt.Errorf("不支持的向量库后端: %q", cfg.Backend)
	}
}

// payloadOf 将分块展开为带内容字段的扁平元数据。
func payloadOf(c model.Chunk) map[string]string {
	out := make(map[string]string, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		out[k] = v
	}
	out[model.MetaChunkID] = c.ID
	out[model.MetaDocID] = c.DocID
	return out
}
