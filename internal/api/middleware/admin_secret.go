package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminSecretHeader carries the operator secret.
const AdminSecretHeader = "X-Admin-Secret"

// AdminSecretMiddleware admits only requests that present secret in AdminSecretHeader.
// With no secret configured the guarded routes answer 404.
func AdminSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(secret) == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		// 密钥只接受 Header，避免 query 泄露到日志。
		token := strings.TrimSpace(c.GetHeader(AdminSecretHeader))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
