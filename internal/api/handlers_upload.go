// handlers_upload.go - Model upload handlers
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/jobs"
	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/metrics"
	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/storage"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store   storage.Store
	jobs    JobManager
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(store storage.Store, jobMgr JobManager, m *metrics.Collector, logger *zap.Logger) UploadHandler {
	return &UploadHandlerImpl{
		store:   store,
		jobs:    jobMgr,
		metrics: m,
		logger:  logging.OrNop(logger).Named("upload"),
	}
}

// HandleAnalyzeModel accepts a multipart "file" upload, stores it and queues
// an analysis job. The response carries the job id.
func (h *UploadHandlerImpl) HandleAnalyzeModel(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		h.metrics.RecordUpload(false, 0)
		return NewValidationError("file")
	}

	src, err := file.Open()
	if err != nil {
		h.metrics.RecordUpload(false, 0)
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		h.metrics.RecordUpload(false, 0)
		return NewInternalError("failed to save file", err)
	}
	h.metrics.RecordUpload(true, info.Size)

	job, err := h.jobs.StartJob(info.ID, info.Name)
	if err != nil {
		if errors.Is(err, jobs.ErrClosed) {
			return NewServiceUnavailableError("server is shutting down")
		}
		return NewInternalError("failed to start analysis", err)
	}

	h.logger.Debug("model accepted",
		zap.String("job_id", job.ID),
		zap.String("file", info.Name),
		zap.Int64("size", info.Size))

	return c.JSON(http.StatusOK, models.SubmitResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// HandleGetRecentFiles returns recently uploaded models, newest first
func (h *UploadHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	limit := defaultRecentLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = min(n, maxRecentLimit)
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}

	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *UploadHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("file", id)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a stored model
func (h *UploadHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NewNotFoundError("file", id)
		}
		return NewInternalError("failed to delete file", err)
	}

	return c.NoContent(http.StatusNoContent)
}
