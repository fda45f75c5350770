package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifc-inspector/inspector/internal/jobs"
	"github.com/ifc-inspector/inspector/internal/metrics"
	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/testutil"
)

type testServer struct {
	echo    *echo.Echo
	store   *testutil.MockStorage
	jobs    *jobs.Manager
	metrics *metrics.Collector
}

func newTestServer(t *testing.T, analyzer jobs.AnalyzerFunc) *testServer {
	t.Helper()
	store := testutil.NewMockStorage()
	m := metrics.NewCollector("test")
	mgr := jobs.NewManager(store, analyzer, jobs.Options{Metrics: m})
	t.Cleanup(mgr.Close)

	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{ExposeDetails: true}, nil, m)
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Store:   store,
		Jobs:    mgr,
		Metrics: m,
		Version: "test",
	}))

	return &testServer{echo: e, store: store, jobs: mgr, metrics: m}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, field, name string, content []byte) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	if field != "" {
		part, err := writer.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, writer.WriteField("note", "no file here"))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze-model-async", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func TestAnalyzeModel_ThenPollStatus(t *testing.T) {
	srv := newTestServer(t, func(context.Context, string) (*models.Report, error) {
		return &models.Report{Instruments: []models.Instrument{{Tag: "FT-101"}}}, nil
	})

	rec := srv.do(multipartRequest(t, "file", "plant.gltf", []byte(`{"asset":{}}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var submit models.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submit))
	require.NotEmpty(t, submit.JobID)
	assert.Equal(t, models.JobStatusQueued, submit.Status)
	assert.Equal(t, 1, srv.store.GetFileCount())

	var status models.StatusResponse
	require.Eventually(t, func() bool {
		rec := srv.do(httptest.NewRequest(http.MethodGet, "/jobs/"+submit.JobID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		status = models.StatusResponse{}
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.Status == models.JobStatusDone
	}, 2*time.Second, 5*time.Millisecond)

	require.NotNil(t, status.Result)
	assert.Equal(t, "FT-101", status.Result.Instruments[0].Tag)
	assert.Empty(t, status.Error)
}

func TestAnalyzeModel_FailedJob(t *testing.T) {
	srv := newTestServer(t, func(context.Context, string) (*models.Report, error) {
		return nil, errors.New("parser crashed")
	})

	rec := srv.do(multipartRequest(t, "file", "plant.gltf", []byte("x")))
	require.Equal(t, http.StatusOK, rec.Code)
	var submit models.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submit))

	require.Eventually(t, func() bool {
		job, ok := srv.jobs.GetJob(submit.JobID)
		return ok && job.Status == models.JobStatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/jobs/"+submit.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"failed","error":"parser crashed"}`, rec.Body.String())
}

func TestAnalyzeModel_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		saveErr    error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing file field",
			req:        func(t *testing.T) *http.Request { return multipartRequest(t, "", "", nil) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "wrong field name",
			req:        func(t *testing.T) *http.Request { return multipartRequest(t, "model", "plant.gltf", []byte("x")) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/analyze-model-async", bytes.NewBufferString(`{}`))
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "storage failure",
			req:        func(t *testing.T) *http.Request { return multipartRequest(t, "file", "plant.gltf", []byte("x")) },
			saveErr:    errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(context.Context, string) (*models.Report, error) { return nil, nil })
			srv.store.SaveErr = tt.saveErr

			rec := srv.do(tt.req(t))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeAPIError(t, rec).Code)
			assert.Zero(t, srv.store.GetFileCount())
		})
	}
}

func TestAnalyzeModel_ManagerClosed(t *testing.T) {
	srv := newTestServer(t, func(context.Context, string) (*models.Report, error) { return nil, nil })
	srv.jobs.Close()

	rec := srv.do(multipartRequest(t, "file", "plant.gltf", []byte("x")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decodeAPIError(t, rec).Code)
}

func TestAnalyzeModel_RateLimited(t *testing.T) {
	store := testutil.NewMockStorage()
	m := metrics.NewCollector("test")
	mgr := jobs.NewManager(store, jobs.AnalyzerFunc(func(context.Context, string) (*models.Report, error) {
		return &models.Report{}, nil
	}), jobs.Options{Metrics: m})
	t.Cleanup(mgr.Close)

	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{UploadRateLimit: 1}, nil, m)
	RegisterRoutes(e, NewHandlers(&Dependencies{Store: store, Jobs: mgr, Metrics: m}))
	srv := &testServer{echo: e, store: store, jobs: mgr, metrics: m}

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, srv.do(multipartRequest(t, "file", "plant.gltf", []byte("x"))).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := srv.do(multipartRequest(t, "file", "plant.gltf", []byte("x")))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeAPIError(t, rec).Code)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobStatus_NotFound(t *testing.T) {
	srv := newTestServer(t, func(context.Context, string) (*models.Report, error) { return nil, nil })

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	apiErr := decodeAPIError(t, rec)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "job not found: missing", apiErr.Message)
}

func TestFiles(t *testing.T) {
	srv := newTestServer(t, func(context.Context, string) (*models.Report, error) { return nil, nil })
	srv.store.AddFile("a", "a.gltf", []byte("aa"))
	srv.store.AddFile("b", "b.glb", []byte("bbb"))

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/files/recent", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var files []models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	assert.Len(t, files, 2)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/files/recent?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	assert.Len(t, files, 1)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/files/recent?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/files/b", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "b.glb", info.Name)
	assert.Equal(t, int64(3), info.Size)

	rec = srv.do(httptest.NewRequest(http.MethodDelete, "/files/b", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = srv.do(httptest.NewRequest(http.MethodDelete, "/files/b", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = srv.do(httptest.NewRequest(http.MethodGet, "/files/b", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, func(context.Context, string) (*models.Report, error) { return nil, nil })

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])

	srv.do(httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",path="/jobs/:id",status="404"} 1`)
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expose     bool
		wantStatus int
		wantCode   string
		wantDetail string
	}{
		{"api error", NewNotFoundError("job", "x"), false, http.StatusNotFound, "NOT_FOUND", ""},
		{"wrapped api error", errors.Join(errors.New("ctx"), NewBadRequestError("bad", errors.New("why"))), false, http.StatusBadRequest, "BAD_REQUEST", "why"},
		{"echo error", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Request Entity Too Large"), false, http.StatusRequestEntityTooLarge, "HTTP_ERROR", ""},
		{"unknown hidden", errors.New("secret"), false, http.StatusInternalServerError, "UNKNOWN_ERROR", ""},
		{"unknown exposed", errors.New("secret"), true, http.StatusInternalServerError, "UNKNOWN_ERROR", "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			NewErrorHandler(nil, tt.expose)(tt.err, c)

			assert.Equal(t, tt.wantStatus, rec.Code)
			apiErr := decodeAPIError(t, rec)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantDetail, apiErr.Details)
		})
	}
}

func TestErrorHandler_CommittedResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, c.String(http.StatusOK, "partial"))

	ErrorHandler(errors.New("late"), c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, SplitOrigins(" http://a, ,http://b "))
	assert.Nil(t, SplitOrigins(""))
}
