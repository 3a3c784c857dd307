package hitlog

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies which ceiling a denied request ran into.
type Kind string

const (
	KindPerRequest        Kind = "per_request"
	KindPerSession        Kind = "per_session"
	KindDaily             Kind = "daily"
	KindMonthly           Kind = "monthly"
	KindFileSize          Kind = "file_size"
	KindFileType          Kind = "file_type"
	KindPagesPerDocument  Kind = "pages_per_document"
	KindDocsPerSession    Kind = "documents_per_session"
	KindPagesPerSession   Kind = "pages_per_session"
	KindPagesPerDay       Kind = "pages_per_day"
	KindQueueFull         Kind = "queue_full"
	KindRequestsPerMinute Kind = "requests_per_minute"
	KindRequestsPerHour   Kind = "requests_per_hour"
	KindRequestsPerDay    Kind = "requests_per_day"
	KindThrottle          Kind = "throttle"
)

// Entry is one recorded admission denial. Entries are immutable once logged.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	CallerID  string    `json:"caller_id"`
	SessionID string    `json:"session_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Message   string    `json:"message,omitempty"`
}

// Recorder is implemented by the hit log and accepted by the admission
// components so they can report their own denials.
type Recorder interface {
	Record(Entry)
}

// Stats summarizes today's denials plus the total retained in the log.
type Stats struct {
	Day       string         `json:"day"`
	Today     int            `json:"today"`
	ByKind    map[Kind]int   `json:"by_kind"`
	ByCaller  map[string]int `json:"by_caller"`
	Retained  int            `json:"retained"`
	Capacity  int            `json:"capacity"`
	TotalEver int64          `json:"total_ever"`
}
