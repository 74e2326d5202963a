package handler

import (
	"net/http"
	"rag-tenant-go/internal/middleware"
	"rag-tenant-go/internal/service"
	"rag-tenant-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services 汇总路由所需的业务服务。
type Services struct {
	Query  service.QueryService
	Index  service.IndexService
	Upload service.UploadService
	Admin  service.AdminService
}

// NewRouter 创建 gin 引擎并注册全部路由。
func NewRouter(svc Services, jwtManager *token.JWTManager, adminKeyHash string) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "registry": svc.Admin.RegistryStats()})
	})

	queryHandler := NewQueryHandler(svc.Query)
	indexHandler := NewIndexHandler(svc.Index)
	uploadHandler := NewUploadHandler(svc.Upload)
	adminHandler := NewAdminHandler(svc.Admin)

	tenantAPI := api.Group("")
	tenantAPI.Use(middleware.TenantMiddleware(jwtManager))
	{
		tenantAPI.POST("/query", queryHandler.Query)
		tenantAPI.GET("/query/stream", queryHandler.Stream)
		tenantAPI.POST("/generate-upload-url", uploadHandler.GenerateUploadURL)
		tenantAPI.POST("/index-doc", indexHandler.Enqueue)
		tenantAPI.POST("/index-doc/sync", indexHandler.IndexSync)
		tenantAPI.GET("/index-doc/:task_id", indexHandler.TaskStatus)
		tenantAPI.POST("/collections", adminHandler.CreateCollection)
	}

	// 管理员路由组不要求租户身份，但会解析 token 以便按角色放行
	admin := api.Group("")
	admin.Use(middleware.OptionalClaims(jwtManager), middleware.AdminAuthMiddleware(adminKeyHash))
	{
		admin.GET("/organizations/stats", adminHandler.RegistryStats)
		admin.DELETE("/organizations/:id/cache", adminHandler.EvictTenant)
		admin.POST("/buckets", adminHandler.CreateBucket)
		admin.GET("/buckets", adminHandler.ListBuckets)
	}
	return r
}
