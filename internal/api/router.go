package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cvforge/internal/api/middleware"
	"cvforge/internal/browser"
	"cvforge/internal/metrics"
)

// NewRouter 构建 Gin 路由引擎，挂载通用中间件、健康检查与指标端点。
// poolStats may be nil.
func NewRouter(logger *slog.Logger, poolStats func() browser.Stats) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(),
	)

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if poolStats != nil {
			st := poolStats()
			body["pool"] = gin.H{
				"size":      st.Size,
				"engines":   st.Engines,
				"launching": st.Launching,
				"leases":    st.Leases,
				"retired":   st.Retired,
			}
		}
		c.JSON(http.StatusOK, body)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
