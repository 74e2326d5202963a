package handler

import (
	"rag-tenant-go/internal/middleware"
	"rag-tenant-go/internal/service"
	"rag-tenant-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UploadURLRequest 定义了生成上传地址 API 的请求体结构。
type UploadURLRequest struct {
	FileType string `json:"file_type" binding:"required"`
}

// UploadHandler 负责处理与文件上传相关的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// GenerateUploadURL 返回客户端直传对象存储的预签名地址。
func (h *UploadHandler) GenerateUploadURL(c *gin.Context) {
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	res, err := h.uploadService.GenerateUploadURL(c.Request.Context(), middleware.Identity(c), req.FileType)
	if err != nil {
		log.Error("GenerateUploadURL: failed to presign upload url", err)
		fail(c, err)
		return
	}
	success(c, res)
}
