package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/ifc-inspector/inspector/internal/models"
)

// FetchStep is one scripted answer of a ScriptedFetcher. Before, if set, runs
// before the answer is returned.
type FetchStep struct {
	Status *models.StatusResponse
	Err    error
	Before func()
}

// ScriptedFetcher answers status requests from a per-job script. The last
// step of a script repeats once the script is exhausted.
type ScriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]FetchStep
	calls   map[string]int
}

// NewScriptedFetcher creates an empty fetcher.
func NewScriptedFetcher() *ScriptedFetcher {
	return &ScriptedFetcher{
		scripts: make(map[string][]FetchStep),
		calls:   make(map[string]int),
	}
}

// Script appends steps for jobID.
func (f *ScriptedFetcher) Script(jobID string, steps ...FetchStep) *ScriptedFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[jobID] = append(f.scripts[jobID], steps...)
	return f
}

// Statuses is shorthand for scripting plain status answers.
func (f *ScriptedFetcher) Statuses(jobID string, statuses ...models.JobStatus) *ScriptedFetcher {
	steps := make([]FetchStep, len(statuses))
	for i, s := range statuses {
		steps[i] = FetchStep{Status: &models.StatusResponse{Status: s}}
	}
	return f.Script(jobID, steps...)
}

// Calls returns how many requests were made for jobID.
func (f *ScriptedFetcher) Calls(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[jobID]
}

// FetchStatus implements poller.StatusFetcher.
func (f *ScriptedFetcher) FetchStatus(ctx context.Context, jobID string) (*models.StatusResponse, error) {
	f.mu.Lock()
	script := f.scripts[jobID]
	n := f.calls[jobID]
	f.calls[jobID] = n + 1
	f.mu.Unlock()

	if len(script) == 0 {
		return nil, fmt.Errorf("no script for job %q", jobID)
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	step := script[n]
	if step.Before != nil {
		step.Before()
	}
	if step.Err != nil {
		return nil, step.Err
	}
	status := *step.Status
	return &status, nil
}

// RecordingObserver collects poller events.
type RecordingObserver struct {
	mu       sync.Mutex
	Statuses []models.JobStatus
	Done     []models.Job
	Failed   []*models.Error
	Errors   []*models.Error
}

func (o *RecordingObserver) OnStatus(job models.Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Statuses = append(o.Statuses, job.Status)
}

func (o *RecordingObserver) OnDone(job models.Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Done = append(o.Done, job)
}

func (o *RecordingObserver) OnFailed(job models.Job, err *models.Error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Failed = append(o.Failed, err)
}

func (o *RecordingObserver) OnError(err *models.Error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Errors = append(o.Errors, err)
}

// Events returns the total number of events seen.
func (o *RecordingObserver) Events() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Statuses) + len(o.Done) + len(o.Failed) + len(o.Errors)
}
