package apihandlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"avtranscribe/internal/app"
	"avtranscribe/internal/artifacts"
	"avtranscribe/internal/services"

	"github.com/gin-gonic/gin"
)

type APIHandler struct {
	App *app.App
}

func NewAPIHandler(a *app.App) *APIHandler {
	return &APIHandler{App: a}
}

// TranscribeResponse is returned by POST /transcribe.
type TranscribeResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// RegisterRoutes mounts the API on r.
func (h *APIHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/transcribe", h.TranscribeHandler)
	r.GET("/status/:id", h.StatusHandler)
	r.GET("/download/:id/:format", h.DownloadHandler)
	r.GET("/jobs", h.ListJobsHandler)
	r.GET("/health", h.HealthHandler)
}

// TranscribeHandler accepts a multipart upload in the "file" field.
func (h *APIHandler) TranscribeHandler(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "Missing file upload: "+err.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		Internal(c, fmt.Sprintf("TranscribeHandler: failed to open upload: %v", err))
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	id, err := h.App.TranscriptionService.SubmitUpload(c.Request.Context(), services.UploadParams{
		Filename:    fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		Body:        f,
		Language:    c.DefaultPostForm("language", "auto"),
		Format:      c.DefaultPostForm("format", "auto"),
	})
	if err != nil {
		respondError(c, "TranscribeHandler", err)
		return
	}
	c.JSON(http.StatusOK, TranscribeResponse{TaskID: id, Status: "queued"})
}

func (h *APIHandler) StatusHandler(c *gin.Context) {
	view, err := h.App.TranscriptionService.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "StatusHandler", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DownloadHandler serves the text or csv result of a finished job.
func (h *APIHandler) DownloadHandler(c *gin.Context) {
	id := c.Param("id")
	kind := c.Param("format")
	path, err := h.App.TranscriptionService.GetResult(c.Request.Context(), id, kind)
	if err != nil {
		respondError(c, "DownloadHandler", err)
		return
	}

	mediaType := "text/plain; charset=utf-8"
	if kind == artifacts.KindCSV {
		mediaType = "text/csv; charset=utf-8"
	}
	c.Header("Content-Type", mediaType)
	c.FileAttachment(path, "transcription_"+id+filepath.Ext(path))
}

func (h *APIHandler) ListJobsHandler(c *gin.Context) {
	limit, offset := 20, 0
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			BadRequest(c, fmt.Sprintf("invalid limit: %s", l))
			return
		}
		limit = parsed
	}
	if o := c.Query("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			BadRequest(c, fmt.Sprintf("invalid offset: %s", o))
			return
		}
		offset = parsed
	}

	items, err := h.App.TranscriptionService.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, "ListJobsHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *APIHandler) HealthHandler(c *gin.Context) {
	if err := h.App.JobStore.Ping(c.Request.Context()); err != nil {
		Unavailable(c, "database unavailable: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
