// Package tenant 管理按租户隔离的集合与索引管道。
//
// 每个租户首次访问时创建集合并装配管道，此后返回同一对实例。
// 已创建的条目通过 sync.Map 无锁读取；同一租户的首次创建由该租户独占的互斥锁保护，
// 不同租户之间互不阻塞。
package tenant

import (
	"context"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/internal/pipeline"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/monitoring"
	"rag-tenant-go/pkg/vectorstore"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// 租户标识直接拼入集合名，各后端对集合名的大小写与通配符处理不同，只接受小写安全字符。
var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

type entry struct {
	collection *Collection
	pipeline   *pipeline.Instance
}

// Stats 是注册表的快照。
type Stats struct {
	TenantCount   int      `json:"tenant_count"`
	TenantIDs     []string `json:"tenant_ids"`
	InstanceCount int      `json:"instance_count"`
	RegistryID    string   `json:"registry_id"`
}

// Registry 缓存每个租户的集合与管道。
type Registry struct {
	id       string
	prefix   string
	dim      int
	indexing config.IndexingConfig
	store    vectorstore.Store
	embedder pipeline.Embedder

	entries sync.Map // tenantID -> *entry
	locks   sync.Map // tenantID -> *sync.Mutex
}

// NewRegistry 创建注册表。
func NewRegistry(cfg config.Config, store vectorstore.Store, embedder pipeline.Embedder) (*Registry, error) {
	if err := pipeline.Validate(cfg.Indexing); err != nil {
		return nil, errs.Configuration("tenant.NewRegistry", "%v", err)
	}
	dim := cfg.VectorStore.Dimensions
	if dim <= 0 {
		dim = cfg.Embedding.Dimensions
	}
	return &Registry{
		id:       uuid.NewString(),
		prefix:   cfg.Tenant.CollectionPrefix,
		dim:      dim,
		indexing: cfg.Indexing,
		store:    store,
		embedder: embedder,
	}, nil
}

// CollectionName 返回租户的集合名，只依赖前缀与租户标识。
func (r *Registry) CollectionName(tenantID string) string {
	return r.prefix + "-" + tenantID
}

// GetOrCreate 返回租户的集合与管道，首次访问时创建。
func (r *Registry) GetOrCreate(ctx context.Context, tenantID string) (*Collection, *pipeline.Instance, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, nil, errs.Input("tenant.GetOrCreate", "organization id is required")
	}
	if !tenantIDPattern.MatchString(tenantID) {
		return nil, nil, errs.Input("tenant.GetOrCreate", "invalid organization id %q", tenantID)
	}
	if e, ok := r.entries.Load(tenantID); ok {
		en := e.(*entry)
		return en.collection, en.pipeline, nil
	}

	lock, _ := r.locks.LoadOrStore(tenantID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if e, ok := r.entries.Load(tenantID); ok {
		en := e.(*entry)
		return en.collection, en.pipeline, nil
	}

	coll := &Collection{name: r.CollectionName(tenantID), tenant: tenantID, dim: r.dim, store: r.store}
	created, err := coll.Ensure(ctx)
	if err != nil {
		log.Errorf("[TenantRegistry] 创建集合失败, tenant: %s, collection: %s, error: %v", tenantID, coll.name, err)
		return nil, nil, errs.Downstream("tenant.GetOrCreate", err).
			With("organization_id", tenantID).
			With("collection", coll.name)
	}
	coll.created = created
	en := &entry{
		collection: coll,
		pipeline:   pipeline.NewInstance(r.indexing, r.embedder, coll),
	}
	r.entries.Store(tenantID, en)
	monitoring.RegistryTenants.Inc()
	log.Infof("[TenantRegistry] 租户资源已就绪, tenant: %s, collection: %s, created: %t", tenantID, coll.name, created)
	return en.collection, en.pipeline, nil
}

// Cached 判断租户是否已有缓存条目。
func (r *Registry) Cached(tenantID string) bool {
	_, ok := r.entries.Load(tenantID)
	return ok
}

// Stats 返回当前缓存的租户列表，按字典序排列。
func (r *Registry) Stats() Stats {
	ids := []string{}
	instances := 0
	r.entries.Range(func(key, value any) bool {
		ids = append(ids, key.(string))
		if value.(*entry).pipeline != nil {
			instances++
		}
		return true
	})
	sort.Strings(ids)
	return Stats{
		TenantCount:   len(ids),
		TenantIDs:     ids,
		InstanceCount: instances,
		RegistryID:    r.id,
	}
}

// Remove 仅移除缓存条目，向量库中的集合保留。
func (r *Registry) Remove(tenantID string) bool {
	_, ok := r.entries.LoadAndDelete(tenantID)
	if ok {
		monitoring.RegistryTenants.Dec()
		log.Infof("[TenantRegistry] 已移除租户缓存, tenant: %s", tenantID)
	}
	return ok
}
