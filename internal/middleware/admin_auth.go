package middleware

import (
	"net/http"
	"rag-tenant-go/pkg/token"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// HeaderAdminKey 携带管理员密钥。
const HeaderAdminKey = "X-Admin-Key"

// AdminAuthMiddleware 检查请求是否具有管理员权限。
// 满足以下任一条件即放行：X-Admin-Key 与配置的 bcrypt 哈希匹配，或 token 角色为 ADMIN。
// token 角色的判断依赖 TenantMiddleware 先行执行。
func AdminAuthMiddleware(adminKeyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(HeaderAdminKey); key != "" && adminKeyHash != "" {
			if bcrypt.CompareHashAndPassword([]byte(adminKeyHash), []byte(key)) == nil {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "管理员密钥无效"})
			return
		}

		if v, ok := c.Get(ContextClaims); ok {
			if claims, ok := v.(*token.TenantClaims); ok && claims.Role == token.RoleAdmin {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "权限不足，需要管理员权限"})
	}
}
