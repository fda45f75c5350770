package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifc-inspector/inspector/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/"}), &hits
}

func sourceOf(name string, data []byte) *Source {
	return &Source{Name: name, Size: int64(len(data)), Body: bytes.NewReader(data)}
}

func requireModelError(t *testing.T, err error, kind models.ErrorKind, code string) *models.Error {
	t.Helper()
	require.Error(t, err)
	var me *models.Error
	require.True(t, errors.As(err, &me), "expected *models.Error, got %T", err)
	assert.Equal(t, kind, me.Kind)
	assert.Equal(t, code, me.Code)
	return me
}

func TestSubmit_NoFile(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	for _, src := range []*Source{nil, {Name: "x.ifc"}} {
		_, err := client.Submit(context.Background(), src, nil)
		requireModelError(t, err, models.KindValidation, "NO_FILE")
		assert.ErrorIs(t, err, ErrNoFile)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(hits), "no network call expected")
}

func TestSubmit_SuccessReportsProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("IFC;"), 512*1024) // 2 MB

	var received []byte
	var fileName string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze-model-async", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		fileName = hdr.Filename
		received, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"job_id":"j1","status":"queued"}`)
	})

	var mu sync.Mutex
	var progress []int
	job, err := client.Submit(context.Background(), sourceOf("plant.ifc", payload), func(pct int) {
		mu.Lock()
		progress = append(progress, pct)
		mu.Unlock()
	})

	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "plant.ifc", fileName)
	assert.Equal(t, payload, received)

	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i], progress[i-1], "progress must increase")
	}
	for _, p := range progress {
		assert.GreaterOrEqual(t, p, 0)
		assert.LessOrEqual(t, p, 100)
	}
}

func TestSubmit_UnknownLengthEmitsNoProgress(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, `{"job_id":"j2"}`)
	})

	called := false
	src := &Source{Name: "m.ifc", Body: strings.NewReader("data")}
	job, err := client.Submit(context.Background(), src, func(int) { called = true })

	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status, "missing status defaults to queued")
	assert.False(t, called)
}

func TestSubmit_ResponseErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    models.ErrorKind
		wantCode    string
		wantMessage string
		wantCause   error
	}{
		{
			name:        "2xx without job id",
			status:      http.StatusOK,
			body:        `{"status":"queued"}`,
			wantKind:    models.KindProtocol,
			wantCode:    "INVALID_RESPONSE",
			wantMessage: "invalid response from server (no job_id)",
			wantCause:   ErrInvalidResponse,
		},
		{
			name:        "2xx with non-json body",
			status:      http.StatusOK,
			body:        `<html>ok</html>`,
			wantKind:    models.KindProtocol,
			wantCode:    "INVALID_RESPONSE",
			wantMessage: "invalid response from server (no job_id)",
			wantCause:   ErrInvalidResponse,
		},
		{
			name:        "server error with json body",
			status:      http.StatusInternalServerError,
			body:        "{ \"detail\": \"disk full\" }",
			wantKind:    models.KindTransport,
			wantCode:    "UPLOAD_REJECTED",
			wantMessage: `upload failed: {"detail":"disk full"}`,
			wantCause:   ErrServer,
		},
		{
			name:        "server error with text body",
			status:      http.StatusRequestEntityTooLarge,
			body:        "file too large",
			wantKind:    models.KindTransport,
			wantCode:    "UPLOAD_REJECTED",
			wantMessage: "upload failed: file too large",
			wantCause:   ErrServer,
		},
		{
			name:        "server error without body",
			status:      http.StatusBadGateway,
			wantKind:    models.KindTransport,
			wantCode:    "UPLOAD_REJECTED",
			wantMessage: "upload failed: 502 Bad Gateway",
			wantCause:   ErrServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				io.Copy(io.Discard, r.Body)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			job, err := client.Submit(context.Background(), sourceOf("a.ifc", []byte("abc")), nil)
			assert.Nil(t, job)
			me := requireModelError(t, err, tt.wantKind, tt.wantCode)
			assert.Equal(t, tt.wantMessage, me.Message)
			assert.ErrorIs(t, err, tt.wantCause)
		})
	}
}

func TestSubmit_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Submit(context.Background(), sourceOf("a.ifc", []byte("abc")), nil)

	requireModelError(t, err, models.KindTransport, "NETWORK")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestSubmit_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	client := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Submit(context.Background(), sourceOf("a.ifc", []byte("abc")), nil)

	requireModelError(t, err, models.KindTransport, "TIMEOUT")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSubmit_Abort(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Submit(ctx, sourceOf("a.ifc", []byte("abc")), nil)

	me := requireModelError(t, err, models.KindTransport, "ABORTED")
	assert.Equal(t, "upload aborted", me.Message)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestFetchStatus(t *testing.T) {
	t.Run("decodes done with result", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/jobs/j1", r.URL.Path)
			io.WriteString(w, `{"status":"done","result":{"instruments":[{"tag":"FT-101"}]}}`)
		})

		status, err := client.FetchStatus(context.Background(), "j1")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusDone, status.Status)
		require.NotNil(t, status.Result)
		require.Len(t, status.Result.Instruments, 1)
		assert.Equal(t, "FT-101", status.Result.Instruments[0].Tag)
	})

	t.Run("non-2xx is a status error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		_, err := client.FetchStatus(context.Background(), "gone")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.StatusCode)
		assert.Equal(t, "job status error: 404", err.Error())
	})

	t.Run("job id is escaped", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/jobs/a%2Fb%3Fc%23d", r.URL.EscapedPath())
			assert.Equal(t, "/jobs/a/b?c#d", r.URL.Path)
			assert.Empty(t, r.URL.RawQuery)
			io.WriteString(w, `{"status":"running"}`)
		})

		status, err := client.FetchStatus(context.Background(), "a/b?c#d")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusRunning, status.Status)
	})

	t.Run("malformed body", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `not json`)
		})

		_, err := client.FetchStatus(context.Background(), "j1")
		assert.ErrorContains(t, err, "decoding job status")
	})
}
