package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/layout"
	"cvforge/internal/resume"
)

// maxMarkupBody bounds the résumé JSON the preview shell posts back.
const maxMarkupBody = 2 << 20

// PreviewHandler serves the page the headless browser loads and the markup it requests.
type PreviewHandler struct{}

func NewPreviewHandler() *PreviewHandler {
	return &PreviewHandler{}
}

// GET /preview?template=<id>
func (h *PreviewHandler) Shell(c *gin.Context) {
	tmpl, err := layout.Parse(c.Query("template"))
	if err != nil {
		ErrorWithDetails(c, http.StatusBadRequest, "Unsupported template", err.Error())
		return
	}

	var buf bytes.Buffer
	if err := layout.Shell(&buf, tmpl); err != nil {
		middleware.LoggerFromContext(c).Error("render preview shell failed", slog.Any("error", err))
		Internal(c, "failed to render preview")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// POST /preview/markup?template=<id>
// The body is the résumé JSON injected into the shell. It is decoded leniently so a
// half-filled document still previews.
func (h *PreviewHandler) Markup(c *gin.Context) {
	tmpl, err := layout.Parse(c.Query("template"))
	if err != nil {
		ErrorWithDetails(c, http.StatusBadRequest, "Unsupported template", err.Error())
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMarkupBody+1))
	if err != nil {
		BadRequest(c, "failed to read body")
		return
	}
	if len(raw) > maxMarkupBody {
		Error(c, http.StatusRequestEntityTooLarge, "cv data too large")
		return
	}

	var data resume.Resume
	if err := json.Unmarshal(raw, &data); err != nil {
		ErrorWithDetails(c, http.StatusBadRequest, "Invalid CV data", err.Error())
		return
	}
	data.Normalize()

	var buf bytes.Buffer
	if err := layout.Render(&buf, tmpl, data); err != nil {
		middleware.LoggerFromContext(c).Error("render markup failed", slog.Any("error", err))
		Internal(c, "failed to render markup")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
