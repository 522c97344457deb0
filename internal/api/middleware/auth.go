package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/hpc_job_server/internal/pkg/jwt"
	"github.com/qs3c/hpc_job_server/internal/pkg/response"
)

const (
	OperatorIDKey = "operatorID"
)

// Auth JWT 认证中间件
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "请提供认证信息")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			response.AuthError(c, "认证格式错误")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "认证失败或已过期")
			c.Abort()
			return
		}

		c.Set(OperatorIDKey, claims.OperatorID)
		c.Next()
	}
}

// GetOperatorID 从上下文获取操作员 ID
func GetOperatorID(c *gin.Context) (int64, bool) {
	operatorID, exists := c.Get(OperatorIDKey)
	if !exists {
		return 0, false
	}
	id, ok := operatorID.(int64)
	return id, ok
}
