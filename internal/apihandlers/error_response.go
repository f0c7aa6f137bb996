package apihandlers

import (
	"errors"
	"net/http"

	"avtranscribe/internal/artifacts"
	"avtranscribe/internal/models"
	"avtranscribe/internal/services"
	"avtranscribe/internal/store"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// APIError defines standard error response
// Example: { "error": { "code": "not_found", "message": "Task not found" } }
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// JSONError sends a structured error response
func JSONError(ctx *gin.Context, status int, code, msg string) {
	ctx.AbortWithStatusJSON(status, errorResponse{Error: APIError{Code: code, Message: msg}})
}

// Convenience wrappers
func BadRequest(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusBadRequest, "bad_request", msg)
}

func NotFound(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusNotFound, "not_found", msg)
}

func Internal(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusInternalServerError, "internal_error", msg)
}

func Conflict(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusConflict, "conflict", msg)
}

func Unavailable(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusServiceUnavailable, "unavailable", msg)
}

// respondError maps service errors onto the envelope above.
func respondError(ctx *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		NotFound(ctx, "Task not found")
	case errors.Is(err, store.ErrDuplicate):
		Conflict(ctx, err.Error())
	case errors.Is(err, services.ErrNotReady),
		errors.Is(err, services.ErrInvalidKind),
		errors.Is(err, artifacts.ErrInvalidUpload),
		errors.Is(err, models.ErrValidation):
		BadRequest(ctx, err.Error())
	case errors.Is(err, services.ErrResultMissing):
		NotFound(ctx, err.Error())
	default:
		log.WithError(err).WithField("op", op).Error("API request failed")
		Internal(ctx, op+": "+err.Error())
	}
}
