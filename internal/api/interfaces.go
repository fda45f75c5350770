// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/ifc-inspector/inspector/internal/jobs"
	"github.com/ifc-inspector/inspector/internal/models"
)

// UploadHandler accepts models for analysis and serves stored file metadata
type UploadHandler interface {
	HandleAnalyzeModel(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
}

// JobHandler serves analysis job status
type JobHandler interface {
	HandleJobStatus(c echo.Context) error
	HandleJobEvents(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// JobManager defines what the handlers need from the job manager.
// This allows mocking in tests
type JobManager interface {
	StartJob(fileID, fileName string) (*jobs.Job, error)
	GetJob(id string) (*jobs.Job, bool)
	Subscribe(id string) (<-chan models.Job, func(), error)
}

var _ JobManager = (*jobs.Manager)(nil)
