package handler

import (
	"encoding/json"
	"net/http"
	"rag-tenant-go/internal/middleware"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/internal/service"
	"rag-tenant-go/pkg/log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// QueryRequest 是问答接口的请求体。
type QueryRequest struct {
	Query   string   `json:"query" binding:"required"`
	Targets []string `json:"targets"`
}

// QueryHandler 负责问答请求，包括 websocket 流式问答。
type QueryHandler struct {
	queryService service.QueryService
}

// NewQueryHandler 创建一个新的 QueryHandler。
func NewQueryHandler(queryService service.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

// Query 处理一次性问答请求。
func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	identity := middleware.Identity(c)
	log.Infof("[QueryHandler] 收到问答请求, organization: %s, targets: %v", identity.OrganizationID, req.Targets)

	answer, err := h.queryService.Query(c.Request.Context(), model.QueryRequest{
		Query:   req.Query,
		Targets: req.Targets,
		Tenant:  identity,
	})
	if err != nil {
		log.Errorf("[QueryHandler] 问答失败, organization: %s, error: %v", identity.OrganizationID, err)
		fail(c, err)
		return
	}
	success(c, answer)
}

// Stream 处理 websocket 问答连接。
// 每条客户端消息是一个 QueryRequest JSON，回答逐段以文本消息下发，最后发送一条 completion 通知。
func (h *QueryHandler) Stream(c *gin.Context) {
	identity := middleware.Identity(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[QueryHandler] WebSocket 连接已建立, organization: %s", identity.OrganizationID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			return
		}

		var req QueryRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeJSON(conn, gin.H{"type": "error", "error": "无效的请求负载"})
			continue
		}

		answer, err := h.queryService.Stream(c.Request.Context(), model.QueryRequest{
			Query:   req.Query,
			Targets: req.Targets,
			Tenant:  identity,
		}, conn)
		if err != nil {
			log.Errorf("[QueryHandler] 处理流式响应失败: %v", err)
			writeJSON(conn, gin.H{"type": "error", "error": err.Error()})
			writeJSON(conn, completion("failed", 0))
			continue
		}
		writeJSON(conn, completion("finished", answer.EvidenceCount))
	}
}

func completion(status string, evidence int) gin.H {
	return gin.H{
		"type":           "completion",
		"status":         status,
		"evidence_count": evidence,
		"timestamp":      time.Now().UnixMilli(),
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) {
	b, _ := json.Marshal(v)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 消息失败: %v", err)
	}
}
