// Package transport talks to the analysis backend: it streams model uploads
// with byte-level progress and reads job status.
package transport

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
)

// DefaultTimeout is the hard ceiling for a single upload.
const DefaultTimeout = 120 * time.Second

// maxErrorBody bounds how much of an error response is echoed to the user.
const maxErrorBody = 4 << 10

// Sentinel causes, reachable with errors.Is on the returned *models.Error.
var (
	ErrNoFile          = errors.New("no file selected")
	ErrServer          = errors.New("server rejected request")
	ErrNetwork         = errors.New("network failure")
	ErrTimeout         = errors.New("upload timed out")
	ErrAborted         = errors.New("upload aborted")
	ErrInvalidResponse = errors.New("invalid response, no job id")
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client submits models and queries job status.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a Client. A zero Timeout means DefaultTimeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		http:    httpClient,
		logger:  logging.OrNop(cfg.Logger).Named("transport"),
	}
}

// SubmitURL is the upload endpoint.
func (c *Client) SubmitURL() string {
	return c.baseURL + "/analyze-model-async"
}

// StatusURL is the status endpoint for a job.
func (c *Client) StatusURL(jobID string) string {
	return c.baseURL + "/jobs/" + url.PathEscape(jobID)
}
