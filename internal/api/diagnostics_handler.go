package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/storage"
)

const (
	defaultDiagnosticsLimit = 50
	maxDiagnosticsLimit     = 500
)

// DiagnosticsLister lists stored render diagnostics.
type DiagnosticsLister interface {
	ListDiagnostics(ctx context.Context, limit int) ([]storage.ObjectMeta, error)
}

// DiagnosticsHandler 列出渲染超时时保存的页面快照。
type DiagnosticsHandler struct {
	lister DiagnosticsLister
}

func NewDiagnosticsHandler(lister DiagnosticsLister) *DiagnosticsHandler {
	return &DiagnosticsHandler{lister: lister}
}

type diagnosticItem struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// GET /diagnostics?limit=N
func (h *DiagnosticsHandler) List(c *gin.Context) {
	if h.lister == nil {
		ServiceUnavailable(c, "diagnostics storage is not configured")
		return
	}

	limit := defaultDiagnosticsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(c, "invalid limit")
			return
		}
		limit = min(n, maxDiagnosticsLimit)
	}

	objects, err := h.lister.ListDiagnostics(c.Request.Context(), limit)
	if err != nil {
		middleware.LoggerFromContext(c).Error("list diagnostics failed", slog.Any("error", err))
		Internal(c, "failed to list diagnostics")
		return
	}

	items := make([]diagnosticItem, 0, len(objects))
	for _, o := range objects {
		items = append(items, diagnosticItem{Key: o.Key, Size: o.Size, LastModified: o.LastModified})
	}
	c.JSON(http.StatusOK, items)
}
