package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/models"
)

// Source is a byte-bearing file to upload.
type Source struct {
	Name string
	Size int64 // <= 0 when unknown
	Body io.Reader
}

// OpenSource opens a file on disk as an upload Source. The caller closes the file.
func OpenSource(path string) (*Source, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%s is a directory", path)
	}
	return &Source{Name: filepath.Base(path), Size: info.Size(), Body: f}, f, nil
}

// ProgressFunc receives upload percentages in [0,100], non-decreasing.
type ProgressFunc func(pct int)

// Submit streams src to the upload endpoint as multipart field "file" and
// returns the server-assigned job. Every failure is a *models.Error.
func (c *Client) Submit(ctx context.Context, src *Source, onProgress ProgressFunc) (*models.Job, error) {
	if src == nil || src.Body == nil {
		return nil, models.NewError(models.KindValidation, "NO_FILE",
			"please choose a model file first", ErrNoFile)
	}

	name := src.Name
	if name == "" {
		name = "model.ifc"
	}

	head, tail, contentType, err := multipartFrame(name)
	if err != nil {
		return nil, models.NewError(models.KindTransport, "UPLOAD_FAILED",
			"upload failed: "+err.Error(), err)
	}

	progress := &progressReader{
		r:          src.Body,
		total:      src.Size,
		onProgress: onProgress,
		last:       -1,
	}
	body := io.MultiReader(bytes.NewReader(head), progress, bytes.NewReader(tail))

	uploadCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(uploadCtx, http.MethodPost, c.SubmitURL(), body)
	if err != nil {
		return nil, models.NewError(models.KindTransport, "UPLOAD_FAILED",
			"upload failed: "+err.Error(), err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if src.Size > 0 {
		req.ContentLength = int64(len(head)) + src.Size + int64(len(tail))
	}

	log := c.logger.With(zap.String("file", name), zap.Int64("size", src.Size))
	log.Info("uploading model", zap.String("endpoint", req.URL.String()))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyDoError(ctx, uploadCtx, err, log)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil || uploadCtx.Err() != nil {
			return nil, c.classifyDoError(ctx, uploadCtx, err, log)
		}
		log.Error("reading upload response failed", zap.Error(err))
		return nil, models.NewError(models.KindTransport, "NETWORK",
			"network error during upload: check the backend is running", fmt.Errorf("%w: %v", ErrNetwork, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := errorDetail(resp, raw)
		log.Error("upload rejected", zap.Int("status", resp.StatusCode), zap.String("detail", detail))
		return nil, models.NewError(models.KindTransport, "UPLOAD_REJECTED",
			"upload failed: "+detail, fmt.Errorf("%w: %s", ErrServer, resp.Status))
	}

	var parsed models.SubmitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.JobID == "" {
		log.Warn("invalid upload response", zap.ByteString("body", truncate(raw)))
		return nil, models.NewError(models.KindProtocol, "INVALID_RESPONSE",
			"invalid response from server (no job_id)", ErrInvalidResponse)
	}

	progress.finish()
	log.Info("job created", zap.String("job_id", parsed.JobID), zap.String("status", string(parsed.Status)))
	return models.NewJob(parsed.JobID, parsed.Status), nil
}

func (c *Client) classifyDoError(parent, uploadCtx context.Context, err error, log *zap.Logger) error {
	switch {
	case parent.Err() != nil:
		log.Warn("upload aborted by client")
		return models.NewError(models.KindTransport, "ABORTED", "upload aborted", fmt.Errorf("%w: %v", ErrAborted, err))
	case errors.Is(uploadCtx.Err(), context.DeadlineExceeded):
		log.Error("upload timed out", zap.Duration("timeout", c.timeout))
		return models.NewError(models.KindTransport, "TIMEOUT",
			fmt.Sprintf("upload timed out after %s", c.timeout), fmt.Errorf("%w: %v", ErrTimeout, err))
	default:
		log.Error("network error during upload", zap.Error(err))
		return models.NewError(models.KindTransport, "NETWORK",
			"network error during upload: check the backend is running", fmt.Errorf("%w: %v", ErrNetwork, err))
	}
}

// multipartFrame renders the bytes surrounding the file content of a
// single-part multipart body, so the content itself can be streamed.
func multipartFrame(fileName string) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if _, err := w.CreateFormFile("file", fileName); err != nil {
		return nil, nil, "", err
	}
	headLen := buf.Len()
	if err := w.Close(); err != nil {
		return nil, nil, "", err
	}
	all := buf.Bytes()
	head = append([]byte(nil), all[:headLen]...)
	tail = append([]byte(nil), all[headLen:]...)
	return head, tail, w.FormDataContentType(), nil
}

// errorDetail prefers the server-provided body, then the status line.
func errorDetail(resp *http.Response, raw []byte) string {
	body := bytes.TrimSpace(raw)
	if len(body) > 0 {
		if json.Valid(body) {
			var compact bytes.Buffer
			if err := json.Compact(&compact, body); err == nil {
				return string(truncate(compact.Bytes()))
			}
		}
		return string(truncate(body))
	}
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

func truncate(b []byte) []byte {
	if len(b) > maxErrorBody {
		return b[:maxErrorBody]
	}
	return b
}

// progressReader reports floor(read/total*100) whenever the percentage grows.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	last       int
	onProgress ProgressFunc
	mu         sync.Mutex
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		p.mu.Unlock()
		p.report()
	}
	return n, err
}

func (p *progressReader) report() {
	if p.onProgress == nil || p.total <= 0 {
		return
	}
	p.mu.Lock()
	read := p.read
	if read > p.total {
		read = p.total
	}
	pct := int(read * 100 / p.total)
	if pct <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = pct
	p.mu.Unlock()
	p.onProgress(pct)
}

// finish reports 100 once the server has accepted the upload.
func (p *progressReader) finish() {
	if p.onProgress == nil || p.total <= 0 {
		return
	}
	p.mu.Lock()
	if p.last >= 100 {
		p.mu.Unlock()
		return
	}
	p.last = 100
	p.mu.Unlock()
	p.onProgress(100)
}
