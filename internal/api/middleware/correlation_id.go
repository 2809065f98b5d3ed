package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cvforge/internal/correlation"
)

const (
	correlationIDKey = "correlationID"
	maxCorrelationID = 128
)

// CorrelationIDMiddleware 确保每个请求都带有 Correlation ID。
// The ID is also stored on the request context so renders and enqueued tasks can log it.
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(correlation.Header))
		if id == "" || len(id) > maxCorrelationID || strings.ContainsAny(id, "/\\") {
			id = uuid.NewString()
		}

		c.Set(correlationIDKey, id)
		c.Header(correlation.Header, id)
		c.Request = c.Request.WithContext(correlation.With(c.Request.Context(), id))

		c.Next()
	}
}

// GetCorrelationID 从上下文中取出 Correlation ID。
func GetCorrelationID(c *gin.Context) string {
	if value, ok := c.Get(correlationIDKey); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}
