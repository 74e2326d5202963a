// Package pipeline 定义了文档索引的核心流程：清洗、切分、向量化、写入。
package pipeline

import (
	"context"
	"fmt"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/pkg/log"
	"strconv"
	"strings"
	"time"
)

// Embedder 为单段文本生成向量。
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// CollectionWriter 是管道写入阶段绑定的租户集合。
type CollectionWriter interface {
	Name() string
	Upsert(ctx context.Context, chunks []model.Chunk) error
	// DeleteStale 删除该文档中 ID 不在 keep 内的旧分块。
	DeleteStale(ctx context.Context, docID string, keep []string) error
}

// Instance 是绑定到单个租户集合的索引管道，阶段顺序固定，创建后不再变化。
type Instance struct {
	cfg      config.IndexingConfig
	embedder Embedder
	writer   CollectionWriter
}

// NewInstance 创建一个新的管道实例。
func NewInstance(cfg config.IndexingConfig, embedder Embedder, writer CollectionWriter) *Instance {
	return &Instance{cfg: cfg, embedder: embedder, writer: writer}
}

// Collection 返回管道绑定的集合名。
func (p *Instance) Collection() string {
	return p.writer.Name()
}

// Run 依次执行 clean、split、embed、write 四个阶段，返回写入的分块数。
// 没有可写入的内容时返回 0 和 nil，由调用方决定如何反馈。
func (p *Instance) Run(ctx context.Context, docs []model.Document, identity model.TenantIdentity) (int, error) {
	docID := firstDocID(docs)
	log.Infof("[Pipeline] 开始处理文档, doc_id: %s, collection: %s, documents: %d", docID, p.writer.Name(), len(docs))
	start := time.Now()

	// 1. 清洗
	cleaned := p.clean(docs)
	if len(cleaned) == 0 {
		log.Warnf("[Pipeline] 清洗后没有可处理的内容, doc_id: %s", docID)
		return 0, nil
	}

	// 2. 切分
	chunks := p.split(cleaned, identity)
	log.Infof("[Pipeline] 文本分块完成, split_by: %s, length: %d, overlap: %d, chunks: %d",
		p.cfg.SplitBy, p.cfg.SplitLength, p.cfg.SplitOverlap, len(chunks))
	if len(chunks) == 0 {
		return 0, nil
	}

	// 3. 向量化
	for i := range chunks {
		vector, err := p.embedder.CreateEmbedding(ctx, chunks[i].Content)
		if err != nil {
			log.Errorf("[Pipeline] 分块 %s 向量化失败, error: %v", chunks[i].ID, err)
			return 0, p.stageError("embed", docID, identity, err)
		}
		chunks[i].Vector = vector
		chunks[i].Metadata[model.MetaEmbeddingModel] = p.embedder.Model()
	}

	// 4. 写入：先按分块 ID 覆盖写入，再清理该文档上一版本多出的分块
	if err := p.writer.Upsert(ctx, chunks); err != nil {
		log.Errorf("[Pipeline] 写入集合失败, collection: %s, error: %v", p.writer.Name(), err)
		return 0, p.stageError("write", docID, identity, err)
	}
	for _, id := range distinctDocIDs(chunks) {
		if err := p.writer.DeleteStale(ctx, id, chunkIDsOf(chunks, id)); err != nil {
			log.Errorf("[Pipeline] 清理旧分块失败, doc_id: %s, error: %v", id, err)
			return 0, p.stageError("write", id, identity, err)
		}
	}

	log.Infof("[Pipeline] 文档处理完成, doc_id: %s, chunks: %d, elapsed: %s", docID, len(chunks), time.Since(start))
	return len(chunks), nil
}

func (p *Instance) stageError(stage, docID string, identity model.TenantIdentity, err error) error {
	return errs.Downstream("pipeline."+stage, err).
		With("doc_id", docID).
		With("organization_id", identity.OrganizationID).
		With("collection", p.writer.Name())
}

// clean 按配置去除空行、多余空白和重复行，内容为空的文档被丢弃。
func (p *Instance) clean(docs []model.Document) []model.Document {
	out := make([]model.Document, 0, len(docs))
	for _, d := range docs {
		seen := make(map[string]bool)
		var kept []string
		for _, line := range strings.Split(d.Content, "\n") {
			if p.cfg.RemoveExtraWhitespaces {
				line = strings.Join(strings.Fields(line), " ")
			}
			trimmed := strings.TrimSpace(line)
			if p.cfg.RemoveEmptyLines && trimmed == "" {
				continue
			}
			if p.cfg.RemoveRepeatedSubstrings && trimmed != "" {
				if seen[trimmed] {
					continue
				}
				seen[trimmed] = true
			}
			kept = append(kept, line)
		}
		content := strings.TrimSpace(strings.Join(kept, "\n"))
		if content == "" {
			continue
		}
		doc := d.Clone()
		doc.Content = content
		out = append(out, doc)
	}
	return out
}

// split 将文档切分为分块。分块序号在同一 doc_id 内连续，租户身份在元数据复制之后写入，不会被文档自带的值覆盖。
func (p *Instance) split(docs []model.Document, identity model.TenantIdentity) []model.Chunk {
	next := make(map[string]int)
	var chunks []model.Chunk
	for _, d := range docs {
		docID := d.Metadata[model.MetaDocID]
		for _, text := range SplitText(d.Content, p.cfg.SplitBy, p.cfg.SplitLength, p.cfg.SplitOverlap) {
			idx := next[docID]
			next[docID]++

			meta := make(map[string]string, len(d.Metadata)+5)
			for k, v := range d.Metadata {
				meta[k] = v
			}
			meta[model.MetaChunkIndex] = strconv.Itoa(idx)
			meta[model.MetaChunkID] = model.ChunkID(docID, idx)
			identity.Stamp(meta)
			if identity.UserID == "" {
				delete(meta, model.MetaUserID)
			}

			chunks = append(chunks, model.Chunk{
				ID:       model.ChunkID(docID, idx),
				DocID:    docID,
				Index:    idx,
				Content:  text,
				Metadata: meta,
			})
		}
	}
	return chunks
}

func firstDocID(docs []model.Document) string {
	for _, d := range docs {
		if id := d.Metadata[model.MetaDocID]; id != "" {
			return id
		}
	}
	return ""
}

func distinctDocIDs(chunks []model.Chunk) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range chunks {
		if !seen[c.DocID] {
			seen[c.DocID] = true
			ids = append(ids, c.DocID)
		}
	}
	return ids
}

func chunkIDsOf(chunks []model.Chunk, docID string) []string {
	var ids []string
	for _, c := range chunks {
		if c.DocID == docID {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Validate 检查切分参数是否可用。
func Validate(cfg config.IndexingConfig) error {
	switch cfg.SplitBy {
	case SplitByWord, SplitBySentence, SplitByPassage, SplitByRune:
	default:
		return fmt.Errorf("不支持的切分单位: %q", cfg.SplitBy)
	}
	if cfg.SplitLength <= 0 || cfg.SplitOverlap < 0 || cfg.SplitOverlap >= cfg.SplitLength {
		return fmt.Errorf("切分参数无效: length=%d overlap=%d", cfg.SplitLength, cfg.SplitOverlap)
	}
	return nil
}
