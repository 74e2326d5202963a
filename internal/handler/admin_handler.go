package handler

import (
	"net/http"
	"rag-tenant-go/internal/middleware"
	"rag-tenant-go/internal/service"
	"rag-tenant-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责租户资源与存储桶的管理接口。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// CreateCollection 确保当前租户的集合存在。
func (h *AdminHandler) CreateCollection(c *gin.Context) {
	info, err := h.adminService.CreateCollection(c.Request.Context(), middleware.Identity(c))
	if err != nil {
		log.Errorf("[AdminHandler] 创建集合失败: %v", err)
		fail(c, err)
		return
	}
	status := "exists"
	if info.Created {
		status = "created"
	}
	success(c, gin.H{
		"status":                status,
		"collection_name":       info.Name,
		"points_count":          info.PointsCount,
		"indexed_vectors_count": info.IndexedVectorsCount,
	})
}

// RegistryStats 返回已缓存的租户列表。
func (h *AdminHandler) RegistryStats(c *gin.Context) {
	success(c, h.adminService.RegistryStats())
}

// EvictTenant 移除某个组织的缓存。
func (h *AdminHandler) EvictTenant(c *gin.Context) {
	orgID := c.Param("id")
	removed, err := h.adminService.EvictTenant(orgID)
	if err != nil {
		fail(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "组织未缓存", "data": nil})
		return
	}
	log.Infof("[AdminHandler] 已清除组织缓存, organization: %s", orgID)
	success(c, gin.H{"organization_id": orgID, "removed": true})
}

// CreateBucketRequest 是创建存储桶的请求体。
type CreateBucketRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateBucket 创建存储桶，已存在时不报错。
func (h *AdminHandler) CreateBucket(c *gin.Context) {
	var req CreateBucketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	created, err := h.adminService.CreateBucket(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"name": req.Name, "created": created})
}

// ListBuckets 列出全部存储桶。
func (h *AdminHandler) ListBuckets(c *gin.Context) {
	buckets, err := h.adminService.ListBuckets(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, buckets)
}
