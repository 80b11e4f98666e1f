package job

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

var (
	// ErrValidation marks missing or malformed input. Never stored.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned when an operation does not fit the job's current status.
	ErrConflict = errors.New("job state conflict")
)

type Job struct {
	ID            string     `json:"jobId"`
	FileName      string     `json:"fileName"`
	Status        Status     `json:"status"`
	QueuePosition int        `json:"queuePosition,omitempty"`
	Transcription string     `json:"transcription,omitempty"`
	Error         string     `json:"error,omitempty"`
	CallbackURL   string     `json:"callbackUrl,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`

	// seq orders jobs created within the same clock tick.
	seq uint64
}

// Stats summarises the scheduler at one instant.
type Stats struct {
	QueueLength  int    `json:"queueLength"`
	IsProcessing bool   `json:"isProcessing"`
	CurrentJobID string `json:"currentJobId"`
	TotalJobs    int    `json:"totalJobs"`
}

// SubmitRequest is the payload used to submit a new job.
type SubmitRequest struct {
	FileName    string `json:"fileName"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

func (r *SubmitRequest) Validate() error {
	r.FileName = strings.TrimSpace(r.FileName)
	if r.FileName == "" {
		return fmt.Errorf("%w: fileName is required", ErrValidation)
	}
	if strings.ContainsAny(r.FileName, `/\`) || r.FileName == "." || r.FileName == ".." {
		return fmt.Errorf("%w: fileName must be a bare file name", ErrValidation)
	}
	if r.CallbackURL != "" && !strings.HasPrefix(r.CallbackURL, "http://") && !strings.HasPrefix(r.CallbackURL, "https://") {
		return fmt.Errorf("%w: callbackUrl must be an http(s) URL", ErrValidation)
	}
	return nil
}
