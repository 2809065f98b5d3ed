package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/config"
	"cvforge/internal/layout"
	"cvforge/internal/upload"
)

// Dependencies are the collaborators the routes are built from. Optional ones may be nil
// and the endpoints that need them answer 503.
type Dependencies struct {
	Exporter    Exporter
	Cache       DocumentCache
	Enqueuer    TaskEnqueuer
	Subscriber  NotifySubscriber
	Assistant   Assistant
	Scanner     upload.Scanner
	Diagnostics DiagnosticsLister
	RateCounter middleware.RateCounter
}

// RegisterRoutes 注册业务路由。
func RegisterRoutes(router *gin.Engine, cfg *config.Config, deps Dependencies, logger *slog.Logger) {
	renderHandler := NewRenderHandler(deps.Exporter, deps.Cache, deps.Enqueuer, cfg.Cache.TTL)
	previewHandler := NewPreviewHandler()
	wsHandler := NewWsHandler(deps.Subscriber, deps.Cache, logger)
	chatHandler := NewChatHandler(deps.Assistant)
	uploadHandler := NewUploadHandler(deps.Assistant, deps.Scanner)
	diagnosticsHandler := NewDiagnosticsHandler(deps.Diagnostics)

	limit := cfg.API.RateLimitPerMinute
	renderLimit := middleware.RateLimitMiddleware(deps.RateCounter, "render", limit, time.Minute)
	assistantLimit := middleware.RateLimitMiddleware(deps.RateCounter, "assistant", limit, time.Minute)

	router.POST("/render", renderLimit, renderHandler.Render)
	prewarmGroup := router.Group("/render/prewarm")
	{
		prewarmGroup.POST("", renderLimit, renderHandler.Prewarm)
		prewarmGroup.GET("/:key/ws", wsHandler.HandleConnection)
	}

	// The headless browser loads these; they are never rate limited.
	router.GET("/preview", previewHandler.Shell)
	router.POST(layout.MarkupPath, previewHandler.Markup)

	router.POST("/chat", assistantLimit, chatHandler.Chat)
	router.POST("/upload", assistantLimit, uploadHandler.Upload)

	adminGroup := router.Group("/diagnostics", middleware.AdminSecretMiddleware(cfg.API.AdminSecret))
	{
		adminGroup.GET("", diagnosticsHandler.List)
	}
}
