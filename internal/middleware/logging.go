package middleware

import (
	"bytes"
	"io"
	"net/http"
	"rag-tenant-go/pkg/log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// 请求体与响应体最多记录的字节数。
const maxLoggedBody = 2048

// cappedWriter 在转发响应的同时保留前 maxLoggedBody 个字节。
type cappedWriter struct {
	gin.ResponseWriter
	buf       bytes.Buffer
	truncated bool
}

func (w *cappedWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.buf.Len(); room > 0 {
		if len(b) > room {
			w.buf.Write(b[:room])
			w.truncated = true
		} else {
			w.buf.Write(b)
		}
	} else if len(b) > 0 {
		w.truncated = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *cappedWriter) logged() string {
	if w.truncated {
		return w.buf.String() + "...(truncated)"
	}
	return w.buf.String()
}

// RequestLogger 记录每个请求的租户、耗时与截断后的请求/响应体。
// websocket 升级与 /metrics 不记录请求体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"clientIP", c.ClientIP(),
		}

		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") || c.Request.URL.Path == "/metrics" {
			c.Next()
			fields = append(fields, "statusCode", c.Writer.Status(), "latency", time.Since(start).String())
			emit(c.Writer.Status(), fields)
			return
		}

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(reqBody))
		}
		w := &cappedWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		if len(reqBody) > maxLoggedBody {
			reqBody = append(reqBody[:maxLoggedBody:maxLoggedBody], "...(truncated)"...)
		}
		fields = append(fields,
			"statusCode", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"organizationId", Identity(c).OrganizationID,
			"requestBody", string(reqBody),
			"responseBody", w.logged(),
		)
		emit(c.Writer.Status(), fields)
	}
}

func emit(status int, fields []interface{}) {
	switch {
	case status >= http.StatusInternalServerError:
		log.Errorw("HTTP 请求失败", fields...)
		return
	case status >= http.StatusBadRequest:
		log.Warnw("HTTP 请求被拒绝", fields...)
		return
	}
	log.Infow("HTTP 请求", fields...)
}
