// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/pkg/token"
	"strings"

	"github.com/gin-gonic/gin"
)

// 请求头与上下文键。
const (
	HeaderOrganizationID = "X-Organization-Id"
	HeaderUserID         = "X-User-Id"

	ContextIdentity = "tenantIdentity"
	ContextClaims   = "claims"
)

// TenantMiddleware 解析请求所属的租户。
// 优先使用 Authorization 中的 Bearer token；没有 token 时读取 X-Organization-Id 与 X-User-Id。
// websocket 请求可以通过 token 查询参数传递 token。
func TenantMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString != "" {
			claims, err := jwtManager.VerifyToken(tokenString)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
				return
			}
			c.Set(ContextClaims, claims)
			c.Set(ContextIdentity, claims.Identity())
			c.Next()
			return
		}

		identity := model.TenantIdentity{
			OrganizationID: strings.TrimSpace(c.GetHeader(HeaderOrganizationID)),
			UserID:         strings.TrimSpace(c.GetHeader(HeaderUserID)),
		}
		if !identity.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少租户身份"})
			return
		}
		c.Set(ContextIdentity, identity)
		c.Next()
	}
}

// OptionalClaims 在携带有效 token 时写入 claims，没有或无效时直接放行。
func OptionalClaims(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := bearerToken(c); tokenString != "" {
			if claims, err := jwtManager.VerifyToken(tokenString); err == nil {
				c.Set(ContextClaims, claims)
				c.Set(ContextIdentity, claims.Identity())
			}
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimPrefix(h, bearerPrefix)
	}
	return c.Query("token")
}

// Identity 返回 TenantMiddleware 写入上下文的租户身份。
func Identity(c *gin.Context) model.TenantIdentity {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return model.TenantIdentity{}
	}
	identity, _ := v.(model.TenantIdentity)
	return identity
}
