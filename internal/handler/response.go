// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"rag-tenant-go/internal/errs"

	"github.com/gin-gonic/gin"
)

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

// fail 根据错误类别写出对应的状态码。
func fail(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	c.JSON(status, gin.H{"code": status, "message": err.Error(), "data": nil})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "data": nil})
}
