// Package analysis drives one model through upload and job polling and keeps
// the user-visible state: progress, active job, report and the single
// current error.
package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/poller"
	"github.com/ifc-inspector/inspector/internal/transport"
)

// ErrSuperseded is returned by StartAnalysis when a newer analysis, or Abort,
// took over while the upload was still running.
var ErrSuperseded = errors.New("analysis superseded")

// Submitter uploads a model and returns the created job.
type Submitter interface {
	Submit(ctx context.Context, src *transport.Source, onProgress transport.ProgressFunc) (*models.Job, error)
}

// State is what the user sees. Err and ActiveJobID are never both set once
// an upload has finished.
type State struct {
	Upload      models.UploadTask
	UploadPct   int
	ActiveJobID string
	JobStatus   models.JobStatus
	Report      *models.Report
	Err         *models.Error
	Analyzing   bool
}

// Options configures a Controller.
type Options struct {
	Clock        clock.Clock
	PollInterval time.Duration
	Logger       *zap.Logger

	// OnChange receives a copy of the state after every change. It may be
	// called from the poller's goroutine and must not call back into the
	// Controller's StartAnalysis, Abort or Close.
	OnChange func(State)
}

// Controller owns the upload and the job watch of the current analysis.
type Controller struct {
	submitter Submitter
	poller    *poller.Poller
	logger    *zap.Logger
	onChange  func(State)

	// startMu serialises generation changes with poller.Watch/Stop so a
	// stale analysis can never start a watch over a newer one.
	startMu sync.Mutex

	mu           sync.Mutex
	gen          uint64
	state        State
	cancelUpload context.CancelFunc
	settled      chan struct{}
	isSettled    bool
}

// New creates a Controller.
func New(submitter Submitter, fetcher poller.StatusFetcher, opts Options) *Controller {
	logger := logging.OrNop(opts.Logger)
	settled := make(chan struct{})
	close(settled)
	return &Controller{
		submitter: submitter,
		poller:    poller.New(fetcher, opts.Clock, opts.PollInterval, logger),
		logger:    logger.Named("analysis"),
		onChange:  opts.OnChange,
		settled:   settled,
		isSettled: true,
	}
}

// StartAnalysis uploads src and, once the server has assigned a job id,
// starts watching it. It returns when the upload has finished; use Wait for
// the job outcome. Any previous analysis is cancelled first.
func (c *Controller) StartAnalysis(ctx context.Context, src *transport.Source) error {
	c.startMu.Lock()
	c.poller.Stop()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancelUpload != nil {
		c.cancelUpload()
	}
	c.settleLocked()
	c.settled = make(chan struct{})
	c.isSettled = false

	uploadCtx, cancel := context.WithCancel(ctx)
	c.cancelUpload = cancel

	task := models.UploadTask{State: models.UploadStateSending}
	if src != nil {
		task.FileName = src.Name
		task.TotalBytes = src.Size
	}
	c.state = State{Upload: task, Analyzing: true}
	snap := c.state
	c.mu.Unlock()
	c.startMu.Unlock()

	c.notify(snap)
	log := c.logger.With(zap.Uint64("generation", gen), zap.String("file", task.FileName))
	log.Info("analysis started")

	job, err := c.submitter.Submit(uploadCtx, src, func(pct int) {
		c.apply(gen, false, func(s *State) {
			s.UploadPct = pct
			if s.Upload.TotalBytes > 0 {
				s.Upload.BytesSent = s.Upload.TotalBytes * int64(pct) / 100
			}
		})
	})
	cancel()

	if err != nil {
		merr := asModelError(err)
		if !c.apply(gen, true, func(s *State) {
			s.Err = merr
			s.Analyzing = false
			s.Upload.State = uploadStateFor(err)
		}) {
			log.Debug("discarding upload error of superseded analysis", zap.Error(err))
			return ErrSuperseded
		}
		log.Warn("upload failed", zap.String("code", merr.Code), zap.String("message", merr.Message))
		return merr
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	if !c.apply(gen, false, func(s *State) {
		s.UploadPct = 100
		s.Upload.BytesSent = s.Upload.TotalBytes
		s.Upload.State = models.UploadStateSucceeded
		s.ActiveJobID = job.ID
		s.JobStatus = job.Status
	}) {
		log.Info("job created for superseded analysis, not watching", zap.String("job_id", job.ID))
		return ErrSuperseded
	}

	log.Info("watching job", zap.String("job_id", job.ID))
	c.poller.Watch(job.ID, &jobObserver{c: c, gen: gen})
	return nil
}

// Wait blocks until the current analysis reaches a terminal state, or ctx is
// done. It returns the final state and the surfaced error, if any.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	settled := c.settled
	c.mu.Unlock()

	select {
	case <-settled:
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}

	snap := c.Snapshot()
	if snap.Err != nil {
		return snap, snap.Err
	}
	return snap, nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetPollInterval changes the poll interval from the next tick. Non-positive
// values select the default.
func (c *Controller) SetPollInterval(d time.Duration) {
	c.poller.SetInterval(d)
}

// PollInterval returns the interval in effect.
func (c *Controller) PollInterval() time.Duration {
	return c.poller.Interval()
}

// Abort cancels the upload or watch in progress and leaves the controller
// idle. No error is surfaced for the aborted analysis.
func (c *Controller) Abort() {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.poller.Stop()

	c.mu.Lock()
	c.gen++
	if c.cancelUpload != nil {
		c.cancelUpload()
		c.cancelUpload = nil
	}
	wasBusy := c.state.Analyzing
	c.state.Analyzing = false
	c.state.ActiveJobID = ""
	if c.state.Upload.State == models.UploadStateSending {
		c.state.Upload.State = models.UploadStateAborted
	}
	c.settleLocked()
	snap := c.state
	c.mu.Unlock()

	if wasBusy {
		c.logger.Info("analysis aborted")
		c.notify(snap)
	}
}

// Close aborts any analysis in progress.
func (c *Controller) Close() {
	c.Abort()
}

// apply mutates the state if gen is still current. settle marks the analysis
// as finished.
func (c *Controller) apply(gen uint64, settle bool, fn func(*State)) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	fn(&c.state)
	if settle {
		c.state.Analyzing = false
		c.cancelUpload = nil
		c.settleLocked()
	}
	snap := c.state
	c.mu.Unlock()

	c.notify(snap)
	return true
}

func (c *Controller) settleLocked() {
	if !c.isSettled {
		c.isSettled = true
		close(c.settled)
	}
}

func (c *Controller) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}

// jobObserver binds poller events to the generation that started the watch.
type jobObserver struct {
	c   *Controller
	gen uint64
}

func (o *jobObserver) OnStatus(job models.Job) {
	o.c.apply(o.gen, false, func(s *State) {
		s.JobStatus = job.Status
	})
}

func (o *jobObserver) OnDone(job models.Job) {
	o.c.apply(o.gen, true, func(s *State) {
		s.JobStatus = job.Status
		s.Report = job.Result
		s.ActiveJobID = ""
	})
	o.c.logger.Info("analysis complete", zap.String("job_id", job.ID))
}

func (o *jobObserver) OnFailed(job models.Job, err *models.Error) {
	o.c.apply(o.gen, true, func(s *State) {
		s.JobStatus = job.Status
		s.Err = err
		s.ActiveJobID = ""
	})
	o.c.logger.Warn("analysis failed", zap.String("job_id", job.ID), zap.String("reason", err.Message))
}

func (o *jobObserver) OnError(err *models.Error) {
	o.c.apply(o.gen, true, func(s *State) {
		s.Err = err
		s.ActiveJobID = ""
	})
	o.c.logger.Warn("lost track of job", zap.String("reason", err.Message))
}

func asModelError(err error) *models.Error {
	var merr *models.Error
	if errors.As(err, &merr) {
		return merr
	}
	return models.NewError(models.KindTransport, "UPLOAD_FAILED", "upload failed: "+err.Error(), err)
}

func uploadStateFor(err error) models.UploadState {
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return models.UploadStateTimedOut
	case errors.Is(err, transport.ErrAborted):
		return models.UploadStateAborted
	default:
		return models.UploadStateFailed
	}
}
