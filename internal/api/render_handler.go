package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"cvforge/internal/api/middleware"
	"cvforge/internal/export"
	"cvforge/internal/layout"
	"cvforge/internal/render"
	"cvforge/internal/resume"
	"cvforge/internal/tasks"
)

// Exporter produces the PDF for a request.
type Exporter interface {
	Export(ctx context.Context, req export.Request) ([]byte, error)
}

// DocumentCache is the read side of the document cache.
type DocumentCache interface {
	Lookup(ctx context.Context, key string) ([]byte, bool)
}

// TaskEnqueuer is the subset of *asynq.Client the prewarm endpoint needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RenderHandler serves synchronous exports and queues prewarm renders.
type RenderHandler struct {
	exporter Exporter
	cache    DocumentCache
	enqueuer TaskEnqueuer
	cacheTTL time.Duration
}

// NewRenderHandler 构造 RenderHandler。cache 与 enqueuer 可以为 nil。
func NewRenderHandler(exporter Exporter, cache DocumentCache, enqueuer TaskEnqueuer, cacheTTL time.Duration) *RenderHandler {
	return &RenderHandler{
		exporter: exporter,
		cache:    cache,
		enqueuer: enqueuer,
		cacheTTL: cacheTTL,
	}
}

type renderRequest struct {
	CVData   json.RawMessage `json:"cvData"`
	Template string          `json:"template"`
}

type prewarmResponse struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

// POST /render
// Returns the PDF as an attachment named after the template.
func (h *RenderHandler) Render(c *gin.Context) {
	req, _, ok := bindRenderRequest(c)
	if !ok {
		return
	}

	pdf, err := h.exporter.Export(c.Request.Context(), req)
	if err != nil {
		middleware.LoggerFromContext(c).Error("pdf generation failed", slog.Any("error", err))
		RenderFailure(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="resume-%s.pdf"`, req.Template))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// POST /render/prewarm
// Queues a background render so a later /render for the same request is a cache hit.
func (h *RenderHandler) Prewarm(c *gin.Context) {
	if h.enqueuer == nil {
		ServiceUnavailable(c, "prewarm is not configured")
		return
	}

	req, raw, ok := bindRenderRequest(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	key := export.Key(req)

	if h.cache != nil {
		if _, hit := h.cache.Lookup(ctx, key); hit {
			c.JSON(http.StatusOK, prewarmResponse{Key: key, Status: "ready"})
			return
		}
	}

	task, err := tasks.NewPDFPrewarmTask(raw, string(req.Template), middleware.GetCorrelationID(c), key, h.cacheTTL)
	if err != nil {
		Internal(c, "failed to build prewarm task")
		return
	}

	logger := middleware.LoggerFromContext(c).With(slog.String("key", key))
	if _, err := h.enqueuer.EnqueueContext(ctx, task); err != nil {
		if !errors.Is(err, asynq.ErrTaskIDConflict) {
			logger.Error("enqueue prewarm task failed", slog.Any("error", err))
			Internal(c, "failed to enqueue prewarm")
			return
		}
		logger.Info("prewarm already queued")
	}

	c.JSON(http.StatusAccepted, prewarmResponse{Key: key, Status: "queued"})
}

// bindRenderRequest decodes and validates a {cvData, template} body. It writes the error
// response itself and reports false when the request must not proceed.
func bindRenderRequest(c *gin.Context) (export.Request, json.RawMessage, bool) {
	var body renderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		ErrorWithDetails(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return export.Request{}, nil, false
	}

	tmpl, err := layout.Parse(body.Template)
	if err != nil {
		RenderFailure(c, render.UnsupportedTemplateError(body.Template, err))
		return export.Request{}, nil, false
	}

	data, err := resume.Decode(body.CVData)
	if err != nil {
		var verr *resume.ValidationError
		switch {
		case errors.Is(err, resume.ErrMissing):
			BadRequest(c, "No CV data provided")
		case errors.As(err, &verr):
			ErrorWithDetails(c, http.StatusBadRequest, "Invalid CV data", verr.Error())
		default:
			ErrorWithDetails(c, http.StatusBadRequest, "Invalid CV data", err.Error())
		}
		return export.Request{}, nil, false
	}

	return export.Request{Data: data, Template: tmpl}, body.CVData, true
}
