package model

import "strconv"

// 文档与分块元数据的键名。
const (
	MetaDocID           = "doc_id"
	MetaObjectPath      = "object_path"
	MetaDocType         = "doc_type"
	MetaSource          = "source"
	MetaSize            = "size"
	MetaPage            = "page"
	MetaChunkIndex      = "chunk_index"
	MetaChunkID         = "chunk_id"
	MetaOrganizationID  = "organization_id"
	MetaUserID          = "user_id"
	MetaConversionError = "conversion_error"
	MetaEmbeddingModel  = "embedding_model"
)

// Document 是转换器产出、索引管道逐阶段加工的文本单元。
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Clone 返回一个元数据独立的副本。
func (d Document) Clone() Document {
	meta := make(map[string]string, len(d.Metadata)+4)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	return Document{Content: d.Content, Metadata: meta}
}

// Chunk 是写入租户集合的最小单元。
type Chunk struct {
	ID       string            `json:"chunk_id"`
	DocID    string            `json:"doc_id"`
	Index    int               `json:"chunk_index"`
	Content  string            `json:"content"`
	Vector   []float32         `json:"-"`
	Metadata map[string]string `json:"metadata"`
}

// ChunkID 由 doc_id 与分块序号确定，重复索引同一文档时覆盖写入。
func ChunkID(docID string, index int) string {
	return docID + "_" + strconv.Itoa(index)
}

// ScoredChunk 是检索命中的分块。
type ScoredChunk struct {
	ID       string            `json:"chunk_id"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}
