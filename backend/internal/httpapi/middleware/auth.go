package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"drawServer/backend/internal/auth"
)

const identityKey = "identity"

// TokenFromRequest Authorization: Bearer 优先，其次 ?token=
func TokenFromRequest(c *gin.Context) string {
	if t := auth.ExtractBearer(c.GetHeader("Authorization")); t != "" {
		return t
	}
	return strings.TrimSpace(c.Query("token"))
}

// RequireAuth 校验 token，把身份放进 gin.Context；失败直接 401
func RequireAuth(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		id, err := v.Verify(ctx, TokenFromRequest(c))
		cancel()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// Identity 取出 RequireAuth 放入的身份
func Identity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
