package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/assistant"
	"cvforge/internal/resume"
)

// Assistant interviews users and extracts résumés from free text.
type Assistant interface {
	Chat(ctx context.Context, history []assistant.Message) (string, bool, error)
	ExtractFromConversation(ctx context.Context, history []assistant.Message) (resume.Resume, error)
	ExtractFromText(ctx context.Context, text string) (resume.Resume, error)
}

// ChatHandler 负责对话式简历采集。
type ChatHandler struct {
	assistant Assistant
}

func NewChatHandler(a Assistant) *ChatHandler {
	return &ChatHandler{assistant: a}
}

type chatRequest struct {
	Messages    *[]assistant.Message `json:"messages"`
	ExtractData bool                 `json:"extractData"`
}

type chatResponse struct {
	Message  string         `json:"message"`
	Complete bool           `json:"complete"`
	CVData   *resume.Resume `json:"cvData"`
}

// POST /chat
// With extractData the conversation so far is turned into cvData; otherwise the
// assistant replies with its next question.
func (h *ChatHandler) Chat(c *gin.Context) {
	if h.assistant == nil {
		ServiceUnavailable(c, "assistant is not configured")
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Messages == nil {
		BadRequest(c, "Invalid messages format")
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	if req.ExtractData {
		data, err := h.assistant.ExtractFromConversation(ctx, *req.Messages)
		if err != nil {
			h.fail(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, chatResponse{Message: "CV data extracted successfully", Complete: true, CVData: &data})
		return
	}

	reply, complete, err := h.assistant.Chat(ctx, *req.Messages)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, chatResponse{Message: reply, Complete: complete})
}

func (h *ChatHandler) fail(c *gin.Context, logger *slog.Logger, err error) {
	var roleErr *assistant.RoleError
	if errors.As(err, &roleErr) {
		ErrorWithDetails(c, http.StatusBadRequest, "Invalid messages format", roleErr.Error())
		return
	}
	logger.Error("chat request failed", slog.Any("error", err))
	ErrorWithDetails(c, http.StatusInternalServerError, "Failed to process chat message", err.Error())
}
