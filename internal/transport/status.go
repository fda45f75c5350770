package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/models"
)

// StatusError is returned when the status endpoint answers with a non-2xx code.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("job status error: %d", e.StatusCode)
}

// FetchStatus issues one status request for jobID. It has no timeout of its
// own beyond ctx.
func (c *Client) FetchStatus(ctx context.Context, jobID string) (*models.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StatusURL(jobID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var status models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding job status: %w", err)
	}

	c.logger.Debug("job status", zap.String("job_id", jobID), zap.String("status", string(status.Status)))
	return &status, nil
}
