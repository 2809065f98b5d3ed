package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/render"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

func ErrorWithDetails(c *gin.Context, status int, msg, details string) {
	c.JSON(status, errorResponse{Error: msg, Details: details})
}

func BadRequest(c *gin.Context, msg string)         { Error(c, http.StatusBadRequest, msg) }
func NotFound(c *gin.Context, msg string)           { Error(c, http.StatusNotFound, msg) }
func Internal(c *gin.Context, msg string)           { Error(c, http.StatusInternalServerError, msg) }
func ServiceUnavailable(c *gin.Context, msg string) { Error(c, http.StatusServiceUnavailable, msg) }

// RenderFailure maps an export error onto its status and client-facing body.
// Diagnostic detail such as captured page HTML stays in the logs.
func RenderFailure(c *gin.Context, err error) {
	var rerr *render.Error
	if errors.As(err, &rerr) {
		ErrorWithDetails(c, rerr.HTTPStatus(), rerr.Kind.Summary(), rerr.Reason())
		return
	}
	ErrorWithDetails(c, http.StatusInternalServerError, "Failed to generate PDF", err.Error())
}
