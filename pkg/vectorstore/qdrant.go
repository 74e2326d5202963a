package vectorstore

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/pkg/log"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	defaultQdrantPort = 6334
	payloadContentKey = "content"
)

// Qdrant 以“每个租户一个 collection”的方式实现 Store，走 gRPC 接口。
type Qdrant struct {
	client   *qdrant.Client
	recreate bool
}

// NewQdrant 解析 URL 并建立 gRPC 连接。
func NewQdrant(cfg config.VectorStoreConfig) (*Qdrant, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Qdrant 客户端失败: %w", err)
	}
	log.Infof("[Qdrant] 客户端初始化成功, %s:%d", host, port)
	return &Qdrant{client: client, recreate: cfg.RecreateIndex}, nil
}

// parseQdrantURL 接受 "host:port"、"http://host:port" 或 "https://host"。
func parseQdrantURL(raw string) (string, int, bool, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("无效的 Qdrant 地址 %q: %w", raw, err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		host, portStr = u.Host, ""
	}
	port := defaultQdrantPort
	if portStr != "" {
		if port, err = strconv.Atoi(portStr); err != nil {
			return "", 0, false, fmt.Errorf("无效的 Qdrant 端口 %q", portStr)
		}
	}
	if host == "" {
		return "", 0, false, fmt.Errorf("无效的 Qdrant 地址 %q", raw)
	}
	return host, port, u.Scheme == "https", nil
}

// CreateCollection 创建余弦距离的集合，并为租户与文档字段建立 keyword 索引。
func (s *Qdrant) CreateCollection(ctx context.Context, name string, dim int) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("检查集合 '%s' 是否存在失败: %w", name, err)
	}
	if exists {
		if !s.recreate {
			return false, nil
		}
		log.Warnf("[Qdrant] recreate_index 已开启, 删除集合 '%s'", name)
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return false, fmt.Errorf("删除集合 '%s' 失败: %w", name, err)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return false, fmt.Errorf("创建集合 '%s' 失败: %w", name, err)
	}

	for _, field := range []string{model.MetaOrganizationID, model.MetaUserID, model.MetaDocID} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			log.Warnf("[Qdrant] 为集合 '%s' 创建字段索引 %s 失败: %v", name, field, err)
		}
	}
	log.Infof("[Qdrant] 集合 '%s' 创建成功, 维度: %d", name, dim)
	return true, nil
}

// pointID 将分块 ID 映射为确定性的 UUID，同一分块重复写入时覆盖。
func pointID(collection, chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+chunkID)).String()
}

func (s *Qdrant) Upsert(ctx context.Context, collection string, chunks []model.Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		payload := make(map[string]any, len(c.Metadata)+3)
		for k, v := range payloadOf(c) {
			payload[k] = v
		}
		payload[payloadContentKey] = c.Content
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(collection, c.ID)),
			Vectors: qdrant.NewVectorsDense(c.Vector),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("写入集合 '%s' 失败: %w", collection, err)
	}
	return nil
}

func qdrantFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conds := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		conds = append(conds, qdrant.NewMatchKeyword(k, v))
	}
	return &qdrant.Filter{Must: conds}
}

func (s *Qdrant) DeleteByFilter(ctx context.Context, collection string, filter Filter, keep ...string) error {
	if len(filter) == 0 {
		return fmt.Errorf("删除条件不能为空")
	}
	selector := qdrantFilter(filter)
	if len(keep) > 0 {
		ids := make([]*qdrant.PointId, 0, len(keep))
		for _, chunkID := range keep {
			ids = append(ids, qdrant.NewIDUUID(pointID(collection, chunkID)))
		}
		selector.MustNot = []*qdrant.Condition{qdrant.NewHasID(ids...)}
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(selector),
	})
	if err != nil {
		return fmt.Errorf("按条件删除集合 '%s' 中的点失败: %w", collection, err)
	}
	return nil
}

func (s *Qdrant) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]model.ScoredChunk, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         qdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("检索集合 '%s' 失败: %w", collection, err)
	}

	out := make([]model.ScoredChunk, 0, len(points))
	for _, p := range points {
		meta := make(map[string]string, len(p.GetPayload()))
		var content string
		for k, v := range p.GetPayload() {
			if k == payloadContentKey {
				content = v.GetStringValue()
				continue
			}
			meta[k] = v.GetStringValue()
		}
		out = append(out, model.ScoredChunk{
			ID:       meta[model.MetaChunkID],
			Content:  content,
			Score:    p.GetScore(),
			Metadata: meta,
		})
	}
	return out, nil
}

func (s *Qdrant) Info(ctx context.Context, collection string) (model.CollectionInfo, error) {
	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return model.CollectionInfo{}, fmt.Errorf("获取集合 '%s' 信息失败: %w", collection, err)
	}
	return model.CollectionInfo{
		Name:                collection,
		PointsCount:         info.GetPointsCount(),
		IndexedVectorsCount: info.GetIndexedVectorsCount(),
	}, nil
}

func (s *Qdrant) Close() error {
	return s.client.Close()
}
