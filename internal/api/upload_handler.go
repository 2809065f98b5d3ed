package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/api/middleware"
	"cvforge/internal/resume"
	"cvforge/internal/upload"
)

// UploadHandler turns an uploaded résumé document into cvData.
type UploadHandler struct {
	assistant Assistant
	scanner   upload.Scanner
}

// NewUploadHandler 返回 UploadHandler。scanner 为 nil 时跳过病毒扫描。
func NewUploadHandler(a Assistant, scanner upload.Scanner) *UploadHandler {
	if scanner == nil {
		scanner = upload.NopScanner{}
	}
	return &UploadHandler{assistant: a, scanner: scanner}
}

type uploadResponse struct {
	Success bool          `json:"success"`
	CVData  resume.Resume `json:"cvData"`
}

// POST /upload
// Accepts a multipart "file" holding a PDF or plain text résumé.
func (h *UploadHandler) Upload(c *gin.Context) {
	if h.assistant == nil {
		ServiceUnavailable(c, "assistant is not configured")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, upload.MaxSize+1<<20)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		BadRequest(c, "No file provided")
		return
	}
	if file.Size > upload.MaxSize {
		Error(c, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, upload.MaxSize+1))
	_ = f.Close()
	if err != nil {
		Internal(c, "failed to read file")
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c).With(slog.String("filename", file.Filename))

	if err := h.scanner.Scan(ctx, data); err != nil {
		if errors.Is(err, upload.ErrInfected) {
			logger.Warn("upload rejected by scanner", slog.Any("error", err))
			BadRequest(c, "malicious file detected")
			return
		}
		logger.Error("scan upload failed", slog.Any("error", err))
		Internal(c, "failed to scan file")
		return
	}

	contentType := upload.DetectType(file.Header.Get("Content-Type"), file.Filename, data)
	text, err := upload.ExtractText(contentType, data)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrUnsupportedType):
			ErrorWithDetails(c, http.StatusUnsupportedMediaType, "Unsupported file type", err.Error())
		case errors.Is(err, upload.ErrTooLarge):
			Error(c, http.StatusRequestEntityTooLarge, "File too large")
		default:
			logger.Warn("extract upload text failed", slog.String("content_type", contentType), slog.Any("error", err))
			BadRequest(c, "Could not extract text from file")
		}
		return
	}

	cv, err := h.assistant.ExtractFromText(ctx, text)
	if err != nil {
		logger.Error("extract cv data from upload failed", slog.Any("error", err))
		Internal(c, "Failed to process file")
		return
	}
	c.JSON(http.StatusOK, uploadResponse{Success: true, CVData: cv})
}
