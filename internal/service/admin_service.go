package service

import (
	"context"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/internal/tenant"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/storage"
	"strings"
)

// BucketManager 管理对象存储的存储桶。
type BucketManager interface {
	EnsureBucket(ctx context.Context, name string) (bool, error)
	ListBuckets(ctx context.Context) ([]storage.BucketInfo, error)
}

// AdminService 接口定义了租户资源与存储桶的管理操作。
type AdminService interface {
	RegistryStats() tenant.Stats
	EvictTenant(organizationID string) (bool, error)
	CreateCollection(ctx context.Context, identity model.TenantIdentity) (*model.CollectionInfo, error)
	CreateBucket(ctx context.Context, name string) (bool, error)
	ListBuckets(ctx context.Context) ([]storage.BucketInfo, error)
}

type adminService struct {
	registry *tenant.Registry
	buckets  BucketManager
}

// NewAdminService 创建一个新的 AdminService 实例。buckets 可以为 nil。
func NewAdminService(registry *tenant.Registry, buckets BucketManager) AdminService {
	return &adminService{registry: registry, buckets: buckets}
}

func (s *adminService) RegistryStats() tenant.Stats {
	return s.registry.Stats()
}

// EvictTenant 移除租户缓存，向量库中的数据不受影响。
func (s *adminService) EvictTenant(organizationID string) (bool, error) {
	if strings.TrimSpace(organizationID) == "" {
		return false, errs.Input("admin.evict", "organization id is required")
	}
	return s.registry.Remove(organizationID), nil
}

// CreateCollection 确保租户集合存在并返回其统计。Created 仅在本次调用新建集合时为 true。
func (s *adminService) CreateCollection(ctx context.Context, identity model.TenantIdentity) (*model.CollectionInfo, error) {
	cached := s.registry.Cached(identity.OrganizationID)
	coll, _, err := s.registry.GetOrCreate(ctx, identity.OrganizationID)
	if err != nil {
		return nil, err
	}
	info, err := coll.Info(ctx)
	if err != nil {
		return nil, errs.Downstream("admin.collection_info", err).With("collection", coll.Name())
	}
	info.Created = !cached && coll.Created()
	log.Infof("[AdminService] 集合状态, collection: %s, created: %t, points: %d", info.Name, info.Created, info.PointsCount)
	return &info, nil
}

func (s *adminService) CreateBucket(ctx context.Context, name string) (bool, error) {
	if s.buckets == nil {
		return false, errs.Configuration("admin.bucket", "object storage is not configured")
	}
	if strings.TrimSpace(name) == "" {
		return false, errs.Input("admin.bucket", "bucket name is required")
	}
	created, err := s.buckets.EnsureBucket(ctx, name)
	if err != nil {
		return false, errs.Downstream("admin.bucket", err).With("bucket", name)
	}
	return created, nil
}

func (s *adminService) ListBuckets(ctx context.Context) ([]storage.BucketInfo, error) {
	if s.buckets == nil {
		return nil, errs.Configuration("admin.bucket", "object storage is not configured")
	}
	buckets, err := s.buckets.ListBuckets(ctx)
	if err != nil {
		return nil, errs.Downstream("admin.bucket", err)
	}
	return buckets, nil
}
