package jobs

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casemark/gatekeeper/internal/hitlog"
	"github.com/casemark/gatekeeper/internal/metrics"
	"github.com/casemark/gatekeeper/internal/quota"
)

// Limits holds the queue's own ceilings; quota ceilings live in the tracker.
type Limits struct {
	MaxConcurrentJobs int
	MaxFileSizeBytes  int64
	AllowedTypes      []string
	BypassKey         string
}

// Queue governs the bounded pool of OCR jobs. It owns job records and their
// state machine; quota commits happen only through Complete.
type Queue struct {
	mu     sync.Mutex
	limits Limits
	jobs   map[uuid.UUID]*Job

	tracker *quota.Tracker
	hits    hitlog.Recorder
	now     func() time.Time
}

// NewQueue creates a Queue that commits completed work to tracker and
// reports denials to hits.
func NewQueue(limits Limits, tracker *quota.Tracker, hits hitlog.Recorder) *Queue {
	return &Queue{
		limits:  limits,
		jobs:    make(map[uuid.UUID]*Job),
		tracker: tracker,
		hits:    hits,
		now:     time.Now,
	}
}

// SetLimits swaps the queue ceilings. Used by config refresh.
func (q *Queue) SetLimits(limits Limits) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limits = limits
}

// CheckAdmission runs the OCR quota checks and then, last, the global
// concurrency ceiling. Quota errors win over queue errors: a caller who is
// over quota should be told so even when the queue is also full.
func (q *Queue) CheckAdmission(callerID, sessionID string, pages int, overrideKey string) quota.Decision {
	if q.bypassMatches(overrideKey) {
		return quota.Decision{Allowed: true, Override: true}
	}

	d := q.tracker.CheckOCRLimits(callerID, sessionID, pages, overrideKey)
	if !d.Allowed {
		return d
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	max := q.limits.MaxConcurrentJobs
	active := q.activeLocked()
	if max > 0 && active >= max {
		deny := quota.Decision{
			Kind:      hitlog.KindQueueFull,
			Limit:     max,
			Used:      active,
			Remaining: 0,
			Message:   fmt.Sprintf("all %d processing slots are busy; try again shortly", max),
		}
		if q.hits != nil {
			q.hits.Record(hitlog.Entry{
				CallerID:  callerID,
				SessionID: sessionID,
				Kind:      deny.Kind,
				Limit:     deny.Limit,
				Used:      deny.Used,
				Message:   deny.Message,
			})
		}
		return deny
	}

	return d
}

// ValidateFile is the stateless pre-check that runs before a job exists:
// size ceiling and allowed content types, with the same bypass semantics as
// the quota checks. Denials here surface as 400s, not 429s.
func (q *Queue) ValidateFile(callerID, sessionID, contentType string, size int64, bypassKey string) quota.Decision {
	if q.bypassMatches(bypassKey) {
		return quota.Decision{Allowed: true, Override: true}
	}

	q.mu.Lock()
	lim := q.limits
	q.mu.Unlock()

	if lim.MaxFileSizeBytes > 0 && size > lim.MaxFileSizeBytes {
		return q.denyFile(callerID, sessionID, quota.Decision{
			Kind:    hitlog.KindFileSize,
			Limit:   int(lim.MaxFileSizeBytes),
			Used:    int(size),
			Message: fmt.Sprintf("file of %d bytes exceeds the %d-byte limit", size, lim.MaxFileSizeBytes),
		})
	}

	allowed := false
	for _, t := range lim.AllowedTypes {
		if t == contentType {
			allowed = true
			break
		}
	}
	if !allowed {
		return q.denyFile(callerID, sessionID, quota.Decision{
			Kind:    hitlog.KindFileType,
			Message: fmt.Sprintf("content type %q is not accepted for OCR", contentType),
		})
	}

	return quota.Decision{Allowed: true}
}

// Create registers a new queued job. Call only after CheckAdmission allowed.
func (q *Queue) Create(callerID, sessionID string, estimatedPages int) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &Job{
		ID:             uuid.New(),
		CallerID:       callerID,
		SessionID:      sessionID,
		EstimatedPages: estimatedPages,
		Status:         StatusQueued,
		CreatedAt:      q.now(),
	}
	q.jobs[job.ID] = job
	metrics.ActiveOCRJobs.Inc()
	return job
}

// Start moves a queued job to processing. Any other starting state is an
// idempotent no-op returning ok=false; callers may race job completion.
func (q *Queue) Start(id uuid.UUID) (View, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok || job.Status != StatusQueued {
		return View{}, false
	}
	now := q.now()
	job.Status = StatusProcessing
	job.StartedAt = &now
	return job.view(), true
}

// Complete finishes a processing job and commits its actual page count to
// the quota tracker. This is the only path that consumes OCR allowance.
func (q *Queue) Complete(id uuid.UUID, actualPages int) (View, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusProcessing {
		q.mu.Unlock()
		return View{}, false
	}
	now := q.now()
	job.Status = StatusCompleted
	job.ActualPages = actualPages
	job.Progress = 100
	job.CompletedAt = &now
	callerID, sessionID := job.CallerID, job.SessionID
	v := job.view()
	q.mu.Unlock()

	metrics.ActiveOCRJobs.Dec()
	metrics.OCRJobsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	q.tracker.TrackOCRUsage(callerID, sessionID, actualPages, 1)
	return v, true
}

// Fail moves a processing job to failed. No usage is committed.
func (q *Queue) Fail(id uuid.UUID, errMsg string) (View, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return View{}, false
	}
	now := q.now()
	job.Status = StatusFailed
	job.Error = errMsg
	job.CompletedAt = &now
	metrics.ActiveOCRJobs.Dec()
	metrics.OCRJobsTotal.WithLabelValues(string(StatusFailed)).Inc()
	return job.view(), true
}

// Cancel aborts a queued or processing job. No usage is committed.
func (q *Queue) Cancel(id uuid.UUID) (View, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok || job.Status.terminal() {
		return View{}, false
	}
	now := q.now()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	metrics.ActiveOCRJobs.Dec()
	metrics.OCRJobsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	return job.view(), true
}

// SetProgress updates a processing job's progress percentage, clamped 0-100.
func (q *Queue) SetProgress(id uuid.UUID, pct int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return false
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	job.Progress = pct
	return true
}

// Get returns a job snapshot.
func (q *Queue) Get(id uuid.UUID) (View, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return View{}, false
	}
	return job.view(), true
}

// Active returns the number of jobs currently queued or processing.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeLocked()
}

func (q *Queue) activeLocked() int {
	n := 0
	for _, j := range q.jobs {
		if j.Status == StatusQueued || j.Status == StatusProcessing {
			n++
		}
	}
	return n
}

// PruneTerminal drops terminal jobs older than ttl so memory stays bounded.
// Returns the number removed.
func (q *Queue) PruneTerminal(ttl time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-ttl)
	removed := 0
	for id, j := range q.jobs {
		if j.Status.terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}

func (q *Queue) denyFile(callerID, sessionID string, d quota.Decision) quota.Decision {
	d.Allowed = false
	if q.hits != nil {
		q.hits.Record(hitlog.Entry{
			CallerID:  callerID,
			SessionID: sessionID,
			Kind:      d.Kind,
			Limit:     d.Limit,
			Used:      d.Used,
			Message:   d.Message,
		})
	}
	return d
}

func (q *Queue) bypassMatches(key string) bool {
	q.mu.Lock()
	secret := q.limits.BypassKey
	q.mu.Unlock()

	if secret == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(key)) == 1
}
