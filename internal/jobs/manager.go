// Package jobs runs model analyses for the development backend. Jobs live in
// memory only and are pruned after a retention window.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/metrics"
	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/storage"
)

var (
	// ErrJobNotFound is returned for unknown or pruned job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrClosed is returned by StartJob after Close.
	ErrClosed = errors.New("job manager closed")
)

// Stages reported alongside the status.
const (
	StageQueued    = "queued"
	StageAnalyzing = "analyzing model"
	StageComplete  = "complete"
	StageFailed    = "failed"
)

// Analyzer produces a report for a stored model file.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (*models.Report, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, path string) (*models.Report, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, path string) (*models.Report, error) {
	return f(ctx, path)
}

// Job represents an async analysis job.
type Job struct {
	ID          string           `json:"id"`
	FileID      string           `json:"fileId"`
	FileName    string           `json:"fileName"`
	Status      models.JobStatus `json:"status"`
	Stage       string           `json:"stage"`
	Result      *models.Report   `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// Public returns the view served by the status endpoint.
func (j *Job) Public() models.Job {
	return models.Job{
		ID:     j.ID,
		Status: j.Status,
		Result: j.Result,
		Error:  j.Error,
	}
}

// Options configures a Manager.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

type subscription struct {
	ch chan models.Job
}

// Manager handles async analysis jobs.
type Manager struct {
	jobs map[string]*Job
	subs map[string]map[*subscription]struct{}
	mu   sync.RWMutex

	store    storage.Store
	analyzer Analyzer
	logger   *zap.Logger
	metrics  *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewManager creates a new analysis job manager.
func NewManager(store storage.Store, analyzer Analyzer, opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:     make(map[string]*Job),
		subs:     make(map[string]map[*subscription]struct{}),
		store:    store,
		analyzer: analyzer,
		logger:   logging.OrNop(opts.Logger).Named("jobs"),
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// StartJob queues the analysis of a stored file and returns immediately.
func (m *Manager) StartJob(fileID, fileName string) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		FileID:    fileID,
		FileName:  fileName,
		Status:    models.JobStatusQueued,
		Stage:     StageQueued,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.jobs[job.ID] = job
	m.wg.Add(1)
	snapshot := *job
	m.mu.Unlock()

	m.metrics.JobStarted()
	m.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("file_id", fileID),
		zap.String("file", fileName))

	go m.processJob(job.ID, fileID)

	return &snapshot, nil
}

// GetJob retrieves a copy of a job by ID.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	c := *job
	return &c, true
}

// Subscribe streams status changes of a job. The current status is delivered
// first; the channel is closed after the terminal status or on cancel.
// A slow reader only ever misses intermediate statuses.
func (m *Manager) Subscribe(id string) (<-chan models.Job, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	sub := &subscription{ch: make(chan models.Job, 4)}
	sub.ch <- job.Public()
	if job.Status.IsTerminal() {
		close(sub.ch)
		return sub.ch, func() {}, nil
	}

	if m.subs[id] == nil {
		m.subs[id] = make(map[*subscription]struct{})
	}
	m.subs[id][sub] = struct{}{}

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id][sub]; ok {
			delete(m.subs[id], sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel, nil
}

// processJob runs the analyzer for one job.
func (m *Manager) processJob(jobID, fileID string) {
	defer m.wg.Done()

	log := m.logger.With(zap.String("job_id", jobID))
	started := time.Now()

	m.updateJobStatus(jobID, models.JobStatusRunning, StageAnalyzing)
	m.setFileStatus(fileID, storage.StatusAnalyzing)

	path, err := m.store.GetFilePath(fileID)
	if err != nil {
		log.Warn("stored file missing", zap.Error(err))
		m.markJobError(jobID, "uploaded file is no longer available", started)
		return
	}

	report, err := m.analyze(path)
	if err != nil {
		log.Warn("analysis failed", zap.Error(err))
		m.setFileStatus(fileID, storage.StatusError)
		m.markJobError(jobID, err.Error(), started)
		return
	}
	if report == nil {
		report = &models.Report{}
	}

	m.setFileStatus(fileID, storage.StatusAnalyzed)
	m.markJobComplete(jobID, report, started)
	log.Info("analysis complete",
		zap.Int("instruments", len(report.Instruments)),
		zap.Duration("elapsed", time.Since(started)))
}

func (m *Manager) analyze(path string) (report *models.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panic: %v", r)
		}
	}()
	return m.analyzer.Analyze(m.ctx, path)
}

func (m *Manager) setFileStatus(fileID, status string) {
	if err := m.store.SetStatus(fileID, status); err != nil {
		m.logger.Debug("file status not recorded", zap.String("file_id", fileID), zap.Error(err))
	}
}

func (m *Manager) updateJobStatus(id string, status models.JobStatus, stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return
	}
	now := time.Now()
	job.Status = status
	job.Stage = stage
	job.StartedAt = &now
	m.publishLocked(job)
}

func (m *Manager) markJobComplete(id string, report *models.Report, started time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return
	}
	now := time.Now()
	job.Status = models.JobStatusDone
	job.Stage = StageComplete
	job.Result = report
	job.CompletedAt = &now
	m.metrics.JobFinished(string(job.Status), now.Sub(started))
	m.publishLocked(job)
}

func (m *Manager) markJobError(id string, errMsg string, started time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return
	}
	now := time.Now()
	job.Status = models.JobStatusFailed
	job.Stage = StageFailed
	job.Error = errMsg
	job.CompletedAt = &now
	m.metrics.JobFinished(string(job.Status), now.Sub(started))
	m.publishLocked(job)
}

// publishLocked fans a status change out to subscribers. Must hold m.mu.
func (m *Manager) publishLocked(job *Job) {
	subs := m.subs[job.ID]
	if len(subs) == 0 {
		return
	}
	v := job.Public()
	for sub := range subs {
		offer(sub.ch, v)
		if job.Status.IsTerminal() {
			close(sub.ch)
		}
	}
	if job.Status.IsTerminal() {
		delete(m.subs, job.ID)
	}
}

// offer sends v, dropping the oldest queued value when the buffer is full.
// The manager is the only sender.
func offer(ch chan models.Job, v models.Job) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// CleanupOldJobs removes terminal jobs finished more than maxAge ago, along
// with their stored uploads. It returns the number of jobs removed.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var fileIDs []string
	for id, job := range m.jobs {
		if !job.Status.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			fileIDs = append(fileIDs, job.FileID)
		}
	}
	m.mu.Unlock()

	for _, fileID := range fileIDs {
		if err := m.store.Delete(fileID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("failed to delete stored upload", zap.String("file_id", fileID), zap.Error(err))
		}
	}
	if len(fileIDs) > 0 {
		m.logger.Info("pruned finished jobs", zap.Int("count", len(fileIDs)))
	}
	return len(fileIDs)
}

// Close stops accepting jobs, cancels running analyses and waits for them.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// RunJanitor prunes finished jobs older than maxAge every interval until ctx
// is done.
func (m *Manager) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldJobs(maxAge)
		}
	}
}
