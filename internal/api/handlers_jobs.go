// handlers_jobs.go - Analysis job status handlers
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/metrics"
	"github.com/ifc-inspector/inspector/internal/models"
)

// JobHandlerImpl implements the JobHandler interface
type JobHandlerImpl struct {
	jobs         JobManager
	metrics      *metrics.Collector
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// NewJobHandler creates a new job handler instance
func NewJobHandler(jobMgr JobManager, m *metrics.Collector, logger *zap.Logger) *JobHandlerImpl {
	return &JobHandlerImpl{
		jobs:    jobMgr,
		metrics: m,
		logger:  logging.OrNop(logger).Named("jobs-api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev tooling on any origin
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		pingInterval: defaultPingInterval,
	}
}

// HandleJobStatus returns {status, result?, error?} for a job
func (h *JobHandlerImpl) HandleJobStatus(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("job", id)
	}

	return c.JSON(http.StatusOK, models.StatusResponse{
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
	})
}
