package quota

import (
	"time"

	"github.com/casemark/gatekeeper/internal/hitlog"
)

// usageRecord holds one caller's rolling daily and monthly consumption.
// Counters are zeroed in place when a reset boundary is crossed; the record
// itself is never deleted.
type usageRecord struct {
	dailyTokens    int
	dailyResetAt   time.Time // next UTC midnight after last mutation
	monthlyTokens  int
	monthlyResetAt time.Time // first UTC midnight of the following month

	dailyPages     int
	dailyDocuments int
}

// sessionRecord holds one session's consumption. Sessions expire once
// lastActivityAt is older than the configured TTL.
type sessionRecord struct {
	tokens         int
	pages          int
	documents      int
	createdAt      time.Time
	lastActivityAt time.Time
}

// Limits is the full ceiling set the tracker enforces. A ceiling of 0 means
// no cap on that horizon.
type Limits struct {
	TokensPerRequest int
	TokensPerSession int
	TokensPerDay     int
	TokensPerMonth   int

	PagesPerDocument int
	DocsPerSession   int
	PagesPerSession  int
	PagesPerDay      int

	OverrideKey string
	SessionTTL  time.Duration
}

// Decision is the outcome of a limit check. Denials carry the kind of
// ceiling hit plus the numbers a caller needs for backoff and display.
type Decision struct {
	Allowed   bool        `json:"allowed"`
	Override  bool        `json:"override,omitempty"`
	Kind      hitlog.Kind `json:"kind,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	Used      int         `json:"used,omitempty"`
	Remaining int         `json:"remaining"`
	ResetsAt  *time.Time  `json:"resets_at,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// HorizonStats reports one quota horizon for display.
type HorizonStats struct {
	Used        int        `json:"used"`
	Limit       int        `json:"limit"`
	Remaining   int        `json:"remaining"`
	PercentUsed int        `json:"percent_used"`
	ResetsAt    *time.Time `json:"resets_at,omitempty"`
}

// Stats is a snapshot of every horizon for one caller and session.
type Stats struct {
	PerRequestLimit int          `json:"per_request_limit"`
	Session         HorizonStats `json:"session"`
	Daily           HorizonStats `json:"daily"`
	Monthly         HorizonStats `json:"monthly"`

	SessionPages   HorizonStats `json:"session_pages"`
	SessionDocs    HorizonStats `json:"session_documents"`
	DailyPages     HorizonStats `json:"daily_pages"`
	DailyDocuments int          `json:"daily_documents"`
}
