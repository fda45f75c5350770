package models

// JobStatus represents the server-side status of an analysis job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen.
// Unknown statuses are never terminal.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Job is a server-tracked unit of analysis work.
// Result is present iff Status is done, Error iff Status is failed.
type Job struct {
	ID     string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Result *Report   `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// NewJob creates a Job in queued status unless the server said otherwise.
func NewJob(id string, status JobStatus) *Job {
	if status == "" {
		status = JobStatusQueued
	}
	return &Job{
		ID:     id,
		Status: status,
	}
}

// SubmitResponse is the body returned by the upload endpoint.
type SubmitResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status,omitempty"`
}

// StatusResponse is the body returned by the job status endpoint.
type StatusResponse struct {
	Status JobStatus `json:"status"`
	Result *Report   `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
}
