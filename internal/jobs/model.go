package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an OCR job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// terminal reports whether no further transition may leave the state.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one unit of OCR work. Usage is committed to the quota tracker only
// when the job completes; failed and cancelled jobs never consume allowance.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	CallerID       string     `json:"-"`
	SessionID      string     `json:"-"`
	EstimatedPages int        `json:"estimated_pages"`
	ActualPages    int        `json:"actual_pages,omitempty"`
	Status         Status     `json:"status"`
	Progress       int        `json:"progress"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// View is the caller-facing job snapshot, stable across polling calls.
type View struct {
	ID             uuid.UUID `json:"id"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	EstimatedPages int       `json:"estimated_pages"`
	ActualPages    int       `json:"actual_pages,omitempty"`
	Error          string    `json:"error,omitempty"`
}

func (j *Job) view() View {
	return View{
		ID:             j.ID,
		Status:         j.Status,
		Progress:       j.Progress,
		EstimatedPages: j.EstimatedPages,
		ActualPages:    j.ActualPages,
		Error:          j.Error,
	}
}
