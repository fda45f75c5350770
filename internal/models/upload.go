package models

// UploadState represents the lifecycle of a single upload.
type UploadState string

const (
	UploadStateIdle      UploadState = "idle"
	UploadStateSending   UploadState = "sending"
	UploadStateSucceeded UploadState = "succeeded"
	UploadStateFailed    UploadState = "failed"
	UploadStateTimedOut  UploadState = "timed-out"
	UploadStateAborted   UploadState = "aborted"
)

// UploadTask tracks one file being streamed to the analysis endpoint.
type UploadTask struct {
	FileName   string      `json:"fileName"`
	TotalBytes int64       `json:"totalBytes"`
	BytesSent  int64       `json:"bytesSent"`
	State      UploadState `json:"state"`
}

// Percent returns floor(BytesSent/TotalBytes*100), or -1 when the total is unknown.
func (t UploadTask) Percent() int {
	if t.TotalBytes <= 0 {
		return -1
	}
	sent := t.BytesSent
	if sent > t.TotalBytes {
		sent = t.TotalBytes
	}
	return int(sent * 100 / t.TotalBytes)
}
