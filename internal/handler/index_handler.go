package handler

import (
	"errors"
	"net/http"
	"rag-tenant-go/internal/middleware"
	"rag-tenant-go/internal/service"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/tasks"

	"github.com/gin-gonic/gin"
)

// IndexRequest 是索引接口的请求体。
type IndexRequest struct {
	DocID      string `json:"doc_id" binding:"required"`
	ObjectPath string `json:"object_path" binding:"required"`
}

// IndexHandler 负责文档索引相关的 API 请求。
type IndexHandler struct {
	indexService service.IndexService
}

// NewIndexHandler 创建一个新的 IndexHandler 实例。
func NewIndexHandler(indexService service.IndexService) *IndexHandler {
	return &IndexHandler{indexService: indexService}
}

// Enqueue 将索引任务投递到队列，立即返回任务 ID。
func (h *IndexHandler) Enqueue(c *gin.Context) {
	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	res, err := h.indexService.Enqueue(c.Request.Context(), req.DocID, req.ObjectPath, middleware.Identity(c))
	if err != nil {
		log.Errorf("[IndexHandler] 投递索引任务失败, doc_id: %s, error: %v", req.DocID, err)
		fail(c, err)
		return
	}
	success(c, res)
}

// IndexSync 在请求内完成索引并返回结果。
func (h *IndexHandler) IndexSync(c *gin.Context) {
	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	res, err := h.indexService.Index(c.Request.Context(), req.DocID, req.ObjectPath, middleware.Identity(c))
	if err != nil {
		log.Errorf("[IndexHandler] 同步索引失败, doc_id: %s, error: %v", req.DocID, err)
		fail(c, err)
		return
	}
	success(c, res)
}

// TaskStatus 查询异步索引任务的状态，只能查询本组织的任务。
func (h *IndexHandler) TaskStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	status, err := h.indexService.TaskStatus(c.Request.Context(), taskID)
	if errors.Is(err, tasks.ErrTaskNotFound) ||
		(err == nil && status.OrganizationID != middleware.Identity(c).OrganizationID) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "任务不存在", "data": nil})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	success(c, status)
}
