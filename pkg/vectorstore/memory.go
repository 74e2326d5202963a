package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/model"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
)

// Memory 基于 chromem-go 的嵌入式向量库，配置 persist_path 时落盘。
type Memory struct {
	db *chromem.DB
}

// 向量总是由调用方计算，集合不应自行调用 Embedding。
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("memory store: 分块缺少向量")
}

// NewMemory 创建嵌入式向量库。
func NewMemory(cfg config.VectorStoreConfig) (*Memory, error) {
	if cfg.PersistPath == "" {
		return &Memory{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(cfg.PersistPath, false)
	if err != nil {
		return nil, fmt.Errorf("打开持久化向量库 %s 失败: %w", cfg.PersistPath, err)
	}
	return &Memory{db: db}, nil
}

func (s *Memory) collection(name string) (*chromem.Collection, error) {
	col := s.db.GetCollection(name, noEmbedding)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return col, nil
}

func (s *Memory) CreateCollection(_ context.Context, name string, dim int) (bool, error) {
	if s.db.GetCollection(name, noEmbedding) != nil {
		return false, nil
	}
	_, err := s.db.CreateCollection(name, map[string]string{"dim": strconv.Itoa(dim)}, noEmbedding)
	if err != nil {
		return false, fmt.Errorf("创建集合 '%s' 失败: %w", name, err)
	}
	return true, nil
}

func (s *Memory) Upsert(ctx context.Context, collection string, chunks []model.Chunk) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		meta := payloadOf(c)
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Metadata:  meta,
			Embedding: c.Vector,
			Content:   c.Content,
		})
	}
	return col.AddDocuments(ctx, docs, runtime.NumCPU())
}

func (s *Memory) DeleteByFilter(ctx context.Context, collection string, filter Filter, keep ...string) error {
	if len(filter) == 0 {
		return errors.New("删除条件不能为空")
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if len(keep) == 0 {
		return col.Delete(ctx, filter, nil)
	}

	// chromem 的删除不支持排除条件，先用保留分块的向量检索出全部匹配项再按 ID 删除
	anchor, err := col.GetByID(ctx, keep[0])
	if err != nil {
		return fmt.Errorf("读取保留分块 %s 失败: %w", keep[0], err)
	}
	matched, err := col.QueryEmbedding(ctx, anchor.Embedding, col.Count(), filter, nil)
	if err != nil {
		return fmt.Errorf("检索待删除分块失败: %w", err)
	}
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var stale []string
	for _, r := range matched {
		if !kept[r.ID] {
			stale = append(stale, r.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return col.Delete(ctx, nil, nil, stale...)
}

func (s *Memory) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]model.ScoredChunk, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	// chromem 要求 nResults 不超过集合大小
	n := topK
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}
	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}
	results, err := col.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("检索集合 '%s' 失败: %w", collection, err)
	}
	out := make([]model.ScoredChunk, 0, len(results))
	for _, r := range results {
		out = append(out, model.ScoredChunk{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		})
	}
	return out, nil
}

func (s *Memory) Info(_ context.Context, collection string) (model.CollectionInfo, error) {
	col, err := s.collection(collection)
	if err != nil {
		return model.CollectionInfo{}, err
	}
	count := uint64(col.Count())
	return model.CollectionInfo{Name: collection, PointsCount: count, IndexedVectorsCount: count}, nil
}

func (s *Memory) Close() error { return nil }
