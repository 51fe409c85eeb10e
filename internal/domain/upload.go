package domain

import (
	"fmt"
	"time"
)

// UploadState represents the lifecycle state of an upload job
type UploadState string

const (
	UploadStateQueued     UploadState = "queued"
	UploadStateUploading  UploadState = "uploading"
	UploadStateProcessing UploadState = "processing"
	UploadStateCompleted  UploadState = "completed"
	UploadStateFailed     UploadState = "failed"
)

// Phase identifies which stage of ingestion a progress value refers to
type Phase string

const (
	PhaseUpload     Phase = "upload"
	PhaseProcessing Phase = "processing"
)

// Progress is a point-in-time progress report for an upload job
type Progress struct {
	Phase   Phase
	Percent int
}

// UploadFile is one uploaded file within an ingestion batch
type UploadFile struct {
	Filename string
	Data     []byte
}

// UploadJob tracks one asynchronous ingestion request
type UploadJob struct {
	ID          string
	Namespace   string
	Files       []UploadFile
	State       UploadState
	Progress    Progress
	Error       string
	FailedFiles []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Terminal reports whether the state is final. Terminal jobs are immutable.
func (s UploadState) Terminal() bool {
	return s == UploadStateCompleted || s == UploadStateFailed
}

var allowedTransitions = map[UploadState][]UploadState{
	UploadStateQueued:     {UploadStateUploading, UploadStateFailed},
	UploadStateUploading:  {UploadStateProcessing, UploadStateFailed},
	UploadStateProcessing: {UploadStateCompleted, UploadStateFailed},
}

// Transition moves the job to the next state, enforcing the lifecycle order.
func (j *UploadJob) Transition(next UploadState) error {
	if j.State.Terminal() {
		return fmt.Errorf("upload job %s is terminal (%s), cannot transition to %s", j.ID, j.State, next)
	}
	for _, allowed := range allowedTransitions[j.State] {
		if next == allowed {
			j.State = next
			j.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid upload state transition %s -> %s", j.State, next)
}

// ValidateUploadJob validates an UploadJob instance
func ValidateUploadJob(j *UploadJob) error {
	if j == nil {
		return fmt.Errorf("upload job cannot be nil")
	}
	if j.ID == "" {
		return fmt.Errorf("upload job ID is required")
	}
	if j.Namespace == "" {
		return fmt.Errorf("upload job namespace is required")
	}
	if len(j.Files) == 0 {
		return fmt.Errorf("upload job must contain at least one file")
	}
	if !isValidUploadState(j.State) {
		return fmt.Errorf("upload job state is invalid: %s", j.State)
	}
	if j.Progress.Percent < 0 || j.Progress.Percent > 100 {
		return fmt.Errorf("upload job progress percent out of range: %d", j.Progress.Percent)
	}
	return nil
}

func isValidUploadState(s UploadState) bool {
	switch s {
	case UploadStateQueued, UploadStateUploading, UploadStateProcessing,
		UploadStateCompleted, UploadStateFailed:
		return true
	}
	return false
}
