package main

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/ifc-inspector/inspector/internal/analysis"
	"github.com/ifc-inspector/inspector/internal/models"
)

// uploadProgress mirrors controller state changes onto a terminal progress
// bar and remembers the job id, which the controller clears once the job
// settles.
type uploadProgress struct {
	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	jobID  string
	status models.JobStatus
	done   bool
}

func newUploadProgress(w io.Writer, name string, enabled bool) *uploadProgress {
	p := &uploadProgress{}
	if !enabled {
		return p
	}
	p.bar = progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("uploading "+name),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return p
}

// isTerminal reports whether stderr is attached to a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (p *uploadProgress) update(s analysis.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.ActiveJobID != "" {
		p.jobID = s.ActiveJobID
	}
	if s.JobStatus != "" && s.JobStatus != p.status {
		p.status = s.JobStatus
		if p.bar != nil && !p.done && s.Upload.State == models.UploadStateSucceeded {
			p.bar.Describe("job " + string(s.JobStatus))
		}
	}
	if p.bar == nil || p.done {
		return
	}
	_ = p.bar.Set(s.UploadPct)
}

func (p *uploadProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil && !p.done {
		_ = p.bar.Finish()
	}
	p.done = true
}

func (p *uploadProgress) job() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID
}
