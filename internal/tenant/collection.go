package tenant

import (
	"context"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/pkg/vectorstore"
)

// Collection 是某个租户在向量库中的命名集合。
type Collection struct {
	name    string
	tenant  string
	dim     int
	store   vectorstore.Store
	created bool
}

// Name 返回集合名。
func (c *Collection) Name() string { return c.name }

// Created 表示集合是否由本进程首次访问时新建。
func (c *Collection) Created() bool { return c.created }

// Ensure 确保集合存在，返回本次是否新建。
func (c *Collection) Ensure(ctx context.Context) (bool, error) {
	return c.store.CreateCollection(ctx, c.name, c.dim)
}

// DeleteStale 删除本租户某文档中 ID 不在 keep 内的分块；keep 为空时删除该文档全部分块。
func (c *Collection) DeleteStale(ctx context.Context, docID string, keep []string) error {
	filter := vectorstore.Filter{
		model.MetaDocID:          docID,
		model.MetaOrganizationID: c.tenant,
	}
	return c.store.DeleteByFilter(ctx, c.name, filter, keep...)
}

// Upsert 按分块 ID 覆盖写入。
func (c *Collection) Upsert(ctx context.Context, chunks []model.Chunk) error {
	return c.store.Upsert(ctx, c.name, chunks)
}

// Search 返回满足过滤条件的 topK 个最相近分块。
func (c *Collection) Search(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]model.ScoredChunk, error) {
	return c.store.Query(ctx, c.name, vector, topK, filter)
}

// Info 返回集合的点数统计。
func (c *Collection) Info(ctx context.Context) (model.CollectionInfo, error) {
	info, err := c.store.Info(ctx, c.name)
	if err != nil {
		return model.CollectionInfo{}, err
	}
	info.Name = c.name
	return info, nil
}
