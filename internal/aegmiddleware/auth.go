// Package aegmiddleware — HTTP 层的认证与限流中间件
// file: internal/aegmiddleware/auth.go
package aegmiddleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"DataAegis/internal/service"
)

const claimContextKey = "dataaegis_claim"

// Authenticate 解析 Bearer token 并把 Claim 放进请求上下文。
// 解析失败只记录不拦截，是否强制认证由 RequireAuth / RequireAdmin 决定。
func Authenticate(auth *service.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString != "" {
				claims, err := auth.Verify(tokenString)
				if err == nil {
					c.Set(claimContextKey, claims)
				} else {
					slog.Debug("认证中间件: Token 无效", "path", c.Request.URL.Path, "ip", c.ClientIP(), "error", err)
				}
			}
		}
		c.Next()
	}
}

// ClaimFrom 从 gin 上下文取出 Claim，未认证时返回 nil。
func ClaimFrom(c *gin.Context) *service.Claim {
	val, ok := c.Get(claimContextKey)
	if !ok {
		return nil
	}
	claims, ok := val.(*service.Claim)
	if !ok {
		return nil
	}
	return claims
}

// RequireAuth 确保请求已认证。
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ClaimFrom(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "需要认证"})
			return
		}
		c.Next()
	}
}

// RequireAdmin 确保只有管理员能访问。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimFrom(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "需要认证"})
			return
		}
		if claims.Role != "admin" {
			slog.Warn("RequireAdmin: 访问被拒绝", "user", claims.ID, "role", claims.Role, "path", c.Request.URL.Path, "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "需要管理员权限"})
			return
		}
		c.Next()
	}
}
