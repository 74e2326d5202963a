package model

// IndexingStatus 是一次索引调用的终态。
type IndexingStatus string

const (
	IndexingSuccess IndexingStatus = "success"
	IndexingError   IndexingStatus = "error"
)

// IndexingResult 是索引调用返回给调用方的结果。
type IndexingResult struct {
	Status     IndexingStatus `json:"status"`
	DocID      string         `json:"doc_id"`
	Tenant     TenantIdentity `json:"tenant"`
	ChunkCount int            `json:"chunk_count"`
	Collection string         `json:"collection"`
	Message    string         `json:"message"`
}

// CollectionInfo 描述租户集合的当前状态。
type CollectionInfo struct {
	Name                string `json:"collection_name"`
	Created             bool   `json:"created"`
	PointsCount         uint64 `json:"points_count"`
	IndexedVectorsCount uint64 `json:"indexed_vectors_count"`
}
