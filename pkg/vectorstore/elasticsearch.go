package vectorstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/pkg/log"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// esChunk 定义了存储在 Elasticsearch 中的文档结构。
type esChunk struct {
	ChunkID  string            `json:"chunk_id"`
	DocID    string            `json:"doc_id"`
	Content  string            `json:"content"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata"`
}

// Elasticsearch 以“每个租户一个索引”的方式实现 Store。
type Elasticsearch struct {
	client   *elasticsearch.Client
	recreate bool
}

// NewElasticsearch 初始化 Elasticsearch 客户端
func NewElasticsearch(cfg config.VectorStoreConfig) (*Elasticsearch, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(cfg.URL, ","),
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Elasticsearch 客户端失败: %w", err)
	}
	return &Elasticsearch{client: client, recreate: cfg.RecreateIndex}, nil
}

// 索引名只允许小写。
func indexName(collection string) string {
	return strings.ToLower(collection)
}

// CreateCollection 检查索引是否存在，如果不存在则创建它
func (s *Elasticsearch) CreateCollection(ctx context.Context, name string, dim int) (bool, error) {
	index := indexName(name)
	res, err := s.client.Indices.Exists([]string{index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		if !s.recreate {
			log.Infof("[Elasticsearch] 索引 '%s' 已存在", index)
			return false, nil
		}
		log.Warnf("[Elasticsearch] recreate_index 已开启, 删除索引 '%s'", index)
		del, err := s.client.Indices.Delete([]string{index}, s.client.Indices.Delete.WithContext(ctx))
		if err != nil {
			return false, fmt.Errorf("删除索引失败: %w", err)
		}
		del.Body.Close()
	case http.StatusNotFound:
	default:
		return false, fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// metadata 使用 flattened 类型，租户过滤走 metadata.<key> 的 term 查询
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"doc_id": { "type": "keyword" },
				"content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"metadata": { "type": "flattened" }
			}
		}
	}`, dim)

	res, err = s.client.Indices.Create(
		index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return false, fmt.Errorf("创建索引 '%s' 失败: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		// 并发创建时另一方已创建成功
		if strings.Contains(res.String(), "resource_already_exists_exception") {
			return false, nil
		}
		return false, fmt.Errorf("创建索引时 Elasticsearch 返回错误: %s", res.String())
	}

	log.Infof("[Elasticsearch] 索引 '%s' 创建成功, 维度: %d", index, dim)
	return true, nil
}

// Upsert 以 chunk_id 作为文档 ID 写入，同 ID 覆盖。
func (s *Elasticsearch) Upsert(ctx context.Context, collection string, chunks []model.Chunk) error {
	index := indexName(collection)
	for i, c := range chunks {
		docBytes, err := json.Marshal(esChunk{
			ChunkID:  c.ID,
			DocID:    c.DocID,
			Content:  c.Content,
			Vector:   c.Vector,
			Metadata: payloadOf(c),
		})
		if err != nil {
			return err
		}

		// 最后一个分块写入后刷新，保证随后的检索可见
		refresh := ""
		if i == len(chunks)-1 {
			refresh = "true"
		}
		req := esapi.IndexRequest{
			Index:      index,
			DocumentID: c.ID,
			Body:       bytes.NewReader(docBytes),
			Refresh:    refresh,
		}
		res, err := req.Do(ctx, s.client)
		if err != nil {
			return fmt.Errorf("索引分块 %s 失败: %w", c.ID, err)
		}
		if res.IsError() {
			body := res.String()
			res.Body.Close()
			return fmt.Errorf("索引分块 %s 时 Elasticsearch 返回错误: %s", c.ID, body)
		}
		res.Body.Close()
	}
	return nil
}

func termFilters(filter Filter) []map[string]interface{} {
	terms := make([]map[string]interface{}, 0, len(filter))
	for k, v := range filter {
		terms = append(terms, map[string]interface{}{
			"term": map[string]interface{}{"metadata." + k: v},
		})
	}
	return terms
}

// DeleteByFilter 使用 delete_by_query 删除匹配的分块。
func (s *Elasticsearch) DeleteByFilter(ctx context.Context, collection string, filter Filter, keep ...string) error {
	if len(filter) == 0 {
		return errors.New("删除条件不能为空")
	}
	boolQuery := map[string]interface{}{"filter": termFilters(filter)}
	if len(keep) > 0 {
		boolQuery["must_not"] = []map[string]interface{}{
			{"terms": map[string]interface{}{"chunk_id": keep}},
		}
	}
	var buf bytes.Buffer
	query := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
	}
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}
	res, err := s.client.DeleteByQuery(
		[]string{indexName(collection)},
		&buf,
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("delete_by_query 失败: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("delete_by_query 返回错误: %s", res.String())
	}
	return nil
}

// Query 执行带过滤条件的 kNN 检索。
func (s *Elasticsearch) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]model.ScoredChunk, error) {
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": topK * 10,
	}
	if len(filter) > 0 {
		knn["filter"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": termFilters(filter)},
		}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]interface{}{
		"knn":     knn,
		"size":    topK,
		"_source": []string{"chunk_id", "doc_id", "content", "metadata"},
	}); err != nil {
		return nil, fmt.Errorf("序列化 Elasticsearch 查询失败: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(indexName(collection)),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrCollectionNotFound
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch returned an error: %s, body: %s", res.Status(), string(body))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source esChunk `json:"_source"`
				Score  float64 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	out := make([]model.ScoredChunk, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		out = append(out, model.ScoredChunk{
			ID:       hit.Source.ChunkID,
			Content:  hit.Source.Content,
			Score:    float32(hit.Score),
			Metadata: hit.Source.Metadata,
		})
	}
	return out, nil
}

// Info 使用 _count 统计索引中的分块数。
func (s *Elasticsearch) Info(ctx context.Context, collection string) (model.CollectionInfo, error) {
	index := indexName(collection)
	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(index),
	)
	if err != nil {
		return model.CollectionInfo{}, fmt.Errorf("统计索引 '%s' 失败: %w", index, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return model.CollectionInfo{}, ErrCollectionNotFound
	}
	if res.IsError() {
		return model.CollectionInfo{}, fmt.Errorf("统计索引时 Elasticsearch 返回错误: %s", res.String())
	}
	var body struct {
		Count uint64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return model.CollectionInfo{}, err
	}
	return model.CollectionInfo{Name: collection, PointsCount: body.Count, IndexedVectorsCount: body.Count}, nil
}

// Close 无需释放资源，客户端复用 http.Transport。
func (s *Elasticsearch) Close() error { return nil }
