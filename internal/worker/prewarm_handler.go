package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"cvforge/internal/correlation"
	"cvforge/internal/errcode"
	"cvforge/internal/export"
	"cvforge/internal/layout"
	"cvforge/internal/render"
	"cvforge/internal/resume"
	"cvforge/internal/tasks"
)

// Exporter renders documents into the shared cache.
type Exporter interface {
	Export(ctx context.Context, req export.Request) ([]byte, error)
}

// PrewarmTaskHandler 负责消费预渲染任务。
type PrewarmTaskHandler struct {
	exporter  Exporter
	publisher Publisher
	logger    *slog.Logger
}

// NewPrewarmTaskHandler 创建任务处理器。
func NewPrewarmTaskHandler(exporter Exporter, publisher Publisher, logger *slog.Logger) *PrewarmTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrewarmTaskHandler{exporter: exporter, publisher: publisher, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *PrewarmTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload tasks.PDFPrewarmPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("decode prewarm payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("template", payload.Template),
	)
	ctx = correlation.With(ctx, payload.CorrelationID)

	data, err := resume.Decode(payload.CVData)
	if err != nil {
		log.Warn("prewarm payload rejected", slog.Any("error", err))
		return fmt.Errorf("validate cv data: %v: %w", err, asynq.SkipRetry)
	}
	tpl, err := layout.Parse(payload.Template)
	if err != nil {
		log.Warn("prewarm payload rejected", slog.Any("error", err))
		return fmt.Errorf("parse template: %v: %w", err, asynq.SkipRetry)
	}

	req := export.Request{Data: data, Template: tpl}
	notify := RenderNotifyMessage{
		Key:           export.Key(req),
		Template:      string(tpl),
		CorrelationID: payload.CorrelationID,
	}
	log = log.With(slog.String("key", notify.Key))

	defer func() {
		if retErr == nil {
			return
		}
		if !errors.Is(retErr, asynq.SkipRetry) && !isFinalAsynqAttempt(ctx) {
			return
		}
		notify.Status = "error"
		notify.ErrorCode = codeFor(retErr)
		notify.ErrorMessage = strings.TrimSpace(retErr.Error())
		if err := publishRenderNotify(ctx, h.publisher, notify); err != nil {
			log.Error("publish prewarm error notification failed", slog.Any("error", err))
		}
	}()

	log.Info("prewarming document")
	if _, err := h.exporter.Export(ctx, req); err != nil {
		log.Error("prewarm render failed", slog.Any("error", err))
		if kind, ok := render.KindOf(err); ok && kind == render.KindUnsupportedTemplate {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	notify.Status = "completed"
	notify.ErrorCode = errcode.OK
	if err := publishRenderNotify(ctx, h.publisher, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("prewarm task completed")
	return nil
}

func codeFor(err error) int {
	kind, ok := render.KindOf(err)
	if !ok {
		return errcode.SystemError
	}
	switch kind {
	case render.KindUnsupportedTemplate:
		return errcode.UnsupportedTemplate
	case render.KindPoolInit:
		return errcode.EngineUnavailable
	case render.KindTimeout:
		return errcode.RenderTimeout
	default:
		return errcode.SystemError
	}
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
