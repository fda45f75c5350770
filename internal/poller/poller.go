// Package poller watches a server-side job until it reaches a terminal state.
//
// Each watch carries the poller's epoch at creation. Stopping the poller, or
// starting a new watch, bumps the epoch; a scheduled or in-flight poll whose
// watch is no longer current is dropped without touching state or observers.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/transport"
)

// DefaultInterval is used when no positive interval is configured.
const DefaultInterval = 2 * time.Second

// StatusFetcher issues a single status request.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, jobID string) (*models.StatusResponse, error)
}

// Observer receives watch events. Calls are serialised, happen with the
// poller's lock held, and never happen for a watch that is no longer current.
// Implementations must not call back into the Poller.
type Observer interface {
	OnStatus(job models.Job)
	OnDone(job models.Job)
	OnFailed(job models.Job, err *models.Error)
	OnError(err *models.Error)
}

// Poller runs at most one watch at a time.
type Poller struct {
	fetcher  StatusFetcher
	clock    clock.Clock
	logger   *zap.Logger
	interval atomic.Int64

	mu     sync.Mutex
	epoch  uint64
	active *Watch
}

// New creates a Poller. A nil clock means the wall clock.
func New(fetcher StatusFetcher, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Poller {
	if clk == nil {
		clk = clock.New()
	}
	p := &Poller{
		fetcher: fetcher,
		clock:   clk,
		logger:  logging.OrNop(logger).Named("poller"),
	}
	p.SetInterval(interval)
	return p
}

// SetInterval changes the delay between polls. It is read again before every
// poll is scheduled, so a change applies from the next tick. Non-positive
// values select DefaultInterval.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	p.interval.Store(int64(d))
}

// Interval returns the current poll interval.
func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// Watch starts polling jobID, cancelling any previous watch first. The first
// poll is issued immediately.
func (p *Poller) Watch(jobID string, obs Observer) *Watch {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		p.logger.Debug("superseding watch", zap.String("job_id", p.active.jobID), zap.String("next", jobID))
		p.finishLocked(p.active)
	}
	p.epoch++

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watch{
		poller:   p,
		epoch:    p.epoch,
		jobID:    jobID,
		observer: obs,
		ctx:      ctx,
		cancel:   cancel,
		job:      models.Job{ID: jobID, Status: models.JobStatusQueued},
		done:     make(chan struct{}),
	}
	p.active = w
	w.timer = p.clock.AfterFunc(0, func() { p.poll(w) })

	p.logger.Info("watching job", zap.String("job_id", jobID), zap.Duration("interval", p.Interval()))
	return w
}

// Stop cancels the active watch, if any. After Stop returns no observer call
// for that watch will happen.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		p.logger.Debug("stopping watch", zap.String("job_id", p.active.jobID))
		p.finishLocked(p.active)
	}
	p.epoch++
}

// ActiveJobID returns the job being watched, or "".
func (p *Poller) ActiveJobID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == nil {
		return ""
	}
	return p.active.jobID
}

func (p *Poller) poll(w *Watch) {
	p.mu.Lock()
	if !p.currentLocked(w) {
		p.mu.Unlock()
		return
	}
	w.polls++
	p.mu.Unlock()

	status, err := p.fetcher.FetchStatus(w.ctx, w.jobID)

	p.mu.Lock()
	defer p.mu.Unlock()

	log := p.logger.With(zap.String("job_id", w.jobID))
	if !p.currentLocked(w) {
		log.Debug("dropping response for stale watch")
		return
	}

	if err != nil {
		merr := pollError(err)
		log.Warn("polling failed", zap.Error(err))
		w.err = merr
		p.finishLocked(w)
		w.observer.OnError(merr)
		return
	}

	w.job.Status = status.Status
	switch status.Status {
	case models.JobStatusDone:
		w.job.Result = status.Result
		if w.job.Result == nil {
			w.job.Result = &models.Report{}
		}
		log.Info("job done", zap.Int("polls", w.polls))
		p.finishLocked(w)
		w.observer.OnDone(w.job)

	case models.JobStatusFailed:
		msg := status.Error
		if msg == "" {
			msg = "job failed"
		}
		w.job.Error = msg
		merr := models.NewError(models.KindJobFailure, "JOB_FAILED", msg, nil)
		w.err = merr
		log.Warn("job failed", zap.String("reason", msg))
		p.finishLocked(w)
		w.observer.OnFailed(w.job, merr)

	default:
		w.observer.OnStatus(w.job)
		w.timer = p.clock.AfterFunc(p.Interval(), func() { p.poll(w) })
	}
}

func (p *Poller) currentLocked(w *Watch) bool {
	return !w.stopped && p.active == w && w.epoch == p.epoch
}

func (p *Poller) finishLocked(w *Watch) {
	if w.stopped {
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.cancel()
	close(w.done)
	if p.active == w {
		p.active = nil
	}
}

func pollError(err error) *models.Error {
	var se *transport.StatusError
	if errors.As(err, &se) {
		return models.NewError(models.KindPollingTransport, "POLL_FAILED", se.Error(), err)
	}
	return models.NewError(models.KindPollingTransport, "POLL_FAILED", "polling error: "+err.Error(), err)
}

// Watch is one job being polled. Its Job is updated in place until terminal.
type Watch struct {
	poller   *Poller
	epoch    uint64
	jobID    string
	observer Observer
	ctx      context.Context
	cancel   context.CancelFunc
	timer    *clock.Timer

	job     models.Job
	err     error
	polls   int
	stopped bool
	done    chan struct{}
}

// JobID returns the watched job id.
func (w *Watch) JobID() string {
	return w.jobID
}

// Done is closed when the watch ends for any reason.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Job returns a snapshot of the watched job.
func (w *Watch) Job() models.Job {
	w.poller.mu.Lock()
	defer w.poller.mu.Unlock()
	return w.job
}

// Err returns the failure that ended the watch, or nil.
func (w *Watch) Err() error {
	w.poller.mu.Lock()
	defer w.poller.mu.Unlock()
	return w.err
}

// Polls returns how many status requests were issued.
func (w *Watch) Polls() int {
	w.poller.mu.Lock()
	defer w.poller.mu.Unlock()
	return w.polls
}

// Stop cancels this watch if it is still the active one.
func (w *Watch) Stop() {
	p := w.poller
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == w {
		p.finishLocked(w)
		p.epoch++
	}
}
