// Package admission wires the rate limiter, quota tracker, and job queue
// into the single decision path every unit of work flows through: rate check
// first, then quota, then the caller proceeds downstream and commits actual
// consumption afterwards.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/casemark/gatekeeper/internal/config"
	"github.com/casemark/gatekeeper/internal/hitlog"
	"github.com/casemark/gatekeeper/internal/jobs"
	"github.com/casemark/gatekeeper/internal/metrics"
	"github.com/casemark/gatekeeper/internal/quota"
	"github.com/casemark/gatekeeper/internal/ratelimit"
	"github.com/casemark/gatekeeper/internal/tokens"
)

// Denial is the caller-facing result of a refused request.
type Denial struct {
	Kind       hitlog.Kind   `json:"kind"`
	Limit      int           `json:"limit"`
	Used       int           `json:"used"`
	Remaining  int           `json:"remaining"`
	ResetsAt   *time.Time    `json:"resets_at,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Message    string        `json:"message"`
}

// Allowance reports an admitted request's remaining headroom.
type Allowance struct {
	Units     int  `json:"units"`
	Remaining int  `json:"remaining"`
	Override  bool `json:"override,omitempty"`
}

// Service is the admission facade handed to the HTTP layer.
type Service struct {
	limiter   *ratelimit.Limiter
	tracker   *quota.Tracker
	queue     *jobs.Queue
	hits      *hitlog.Log
	estimator *tokens.Estimator
}

func NewService(limiter *ratelimit.Limiter, tracker *quota.Tracker, queue *jobs.Queue, hits *hitlog.Log, estimator *tokens.Estimator) *Service {
	return &Service{
		limiter:   limiter,
		tracker:   tracker,
		queue:     queue,
		hits:      hits,
		estimator: estimator,
	}
}

// AdmitChat decides whether a chat request may proceed. units may be 0 when
// the caller supplies a prompt instead; the estimator then sizes the request.
// The request is recorded against the rate limiter immediately after an
// allowed rate check, before any downstream work.
func (s *Service) AdmitChat(ctx context.Context, callerID, sessionID string, tier ratelimit.Tier, prompt string, units int, overrideKey string) (Allowance, *Denial) {
	if units <= 0 && prompt != "" && s.estimator != nil {
		units = s.estimator.EstimateRequest(prompt)
	}
	if units <= 0 {
		units = 1
	}

	if d := s.checkRate(ctx, callerID, sessionID, tier, "chat"); d != nil {
		return Allowance{}, d
	}
	s.limiter.Record(ctx, callerID)

	decision := s.tracker.CheckLimits(callerID, sessionID, units, overrideKey)
	if !decision.Allowed {
		metrics.AdmissionsTotal.WithLabelValues("chat", "denied").Inc()
		metrics.DenialsTotal.WithLabelValues(string(decision.Kind)).Inc()
		return Allowance{}, denialFrom(decision)
	}

	metrics.AdmissionsTotal.WithLabelValues("chat", "allowed").Inc()
	return Allowance{Units: units, Remaining: decision.Remaining, Override: decision.Override}, nil
}

// CommitChat records actual consumption after the completion call returned.
// Never call it for failed downstream work.
func (s *Service) CommitChat(callerID, sessionID string, actualUnits int) {
	if actualUnits <= 0 {
		return
	}
	s.tracker.TrackUsage(callerID, sessionID, actualUnits)
}

// AdmitOCRJob validates the file, runs rate and OCR quota checks, and
// creates a queued job. File denials are distinguished from quota denials by
// their kind (file_size, file_type), which the HTTP layer maps to 400.
func (s *Service) AdmitOCRJob(ctx context.Context, callerID, sessionID string, tier ratelimit.Tier, contentType string, sizeBytes int64, pages int, bypassKey string) (jobs.View, *Denial) {
	if d := s.queue.ValidateFile(callerID, sessionID, contentType, sizeBytes, bypassKey); !d.Allowed {
		metrics.AdmissionsTotal.WithLabelValues("ocr", "denied").Inc()
		metrics.DenialsTotal.WithLabelValues(string(d.Kind)).Inc()
		return jobs.View{}, denialFrom(d)
	}

	if d := s.checkRate(ctx, callerID, sessionID, tier, "ocr"); d != nil {
		return jobs.View{}, d
	}
	s.limiter.Record(ctx, callerID)

	decision := s.queue.CheckAdmission(callerID, sessionID, pages, bypassKey)
	if !decision.Allowed {
		metrics.AdmissionsTotal.WithLabelValues("ocr", "denied").Inc()
		metrics.DenialsTotal.WithLabelValues(string(decision.Kind)).Inc()
		return jobs.View{}, denialFrom(decision)
	}

	job := s.queue.Create(callerID, sessionID, pages)
	metrics.AdmissionsTotal.WithLabelValues("ocr", "allowed").Inc()
	slog.Info("ocr job admitted", "job", job.ID, "caller", callerID, "pages", pages)

	v, _ := s.queue.Get(job.ID)
	return v, nil
}

// Job operations are thin passthroughs so the HTTP layer depends on one
// service type.

func (s *Service) StartJob(id uuid.UUID) (jobs.View, bool)   { return s.queue.Start(id) }
func (s *Service) GetJob(id uuid.UUID) (jobs.View, bool)     { return s.queue.Get(id) }
func (s *Service) CancelJob(id uuid.UUID) (jobs.View, bool)  { return s.queue.Cancel(id) }
func (s *Service) CompleteJob(id uuid.UUID, actualPages int) (jobs.View, bool) {
	return s.queue.Complete(id, actualPages)
}
func (s *Service) FailJob(id uuid.UUID, errMsg string) (jobs.View, bool) {
	return s.queue.Fail(id, errMsg)
}

// ResetSession zeroes a session's counters ("start new chat").
func (s *Service) ResetSession(sessionID string) {
	s.tracker.ResetSession(sessionID)
}

// UsageStats returns the caller's quota snapshot for display.
func (s *Service) UsageStats(callerID, sessionID string) quota.Stats {
	return s.tracker.UsageStats(callerID, sessionID)
}

// Hits exposes the hit log's read API.
func (s *Service) Hits() *hitlog.Log { return s.hits }

// RefreshConfig reloads configuration from the environment and swaps the
// live ceilings. Counters and retained hits are untouched.
func (s *Service) RefreshConfig() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("reloading config: %w", err)
	}
	s.ApplyConfig(cfg)
	slog.Info("config refreshed")
	return nil
}

// ApplyConfig pushes a loaded config's ceilings into the live components.
func (s *Service) ApplyConfig(cfg *config.Config) {
	s.tracker.SetLimits(QuotaLimits(cfg))
	s.limiter.SetTiers(ratelimit.TiersFromConfig(cfg.Rate))
	s.queue.SetLimits(QueueLimits(cfg))
}

// QuotaLimits maps config to the tracker's ceiling set.
func QuotaLimits(cfg *config.Config) quota.Limits {
	return quota.Limits{
		TokensPerRequest: cfg.Quota.MaxTokensPerRequest,
		TokensPerSession: cfg.Quota.MaxTokensPerSession,
		TokensPerDay:     cfg.Quota.MaxTokensPerDay,
		TokensPerMonth:   cfg.Quota.MaxTokensPerMonth,
		PagesPerDocument: cfg.OCR.MaxPagesPerDocument,
		DocsPerSession:   cfg.OCR.MaxDocsPerSession,
		PagesPerSession:  cfg.OCR.MaxPagesPerSession,
		PagesPerDay:      cfg.OCR.MaxPagesPerDay,
		OverrideKey:      cfg.Quota.OverrideKey,
		SessionTTL:       cfg.Quota.SessionTTL,
	}
}

// QueueLimits maps config to the job queue's ceiling set.
func QueueLimits(cfg *config.Config) jobs.Limits {
	return jobs.Limits{
		MaxConcurrentJobs: cfg.OCR.MaxConcurrentJobs,
		MaxFileSizeBytes:  cfg.OCR.MaxFileSizeBytes,
		AllowedTypes:      cfg.OCR.AllowedTypes,
		BypassKey:         cfg.OCR.BypassKey,
	}
}

// checkRate runs the rate limiter and logs any denial to the hit log; rate
// denials are recorded here rather than inside the limiter because only this
// layer knows the session.
func (s *Service) checkRate(ctx context.Context, callerID, sessionID string, tier ratelimit.Tier, resource string) *Denial {
	res := s.limiter.Check(ctx, callerID, tier)
	if res.Allowed {
		return nil
	}

	metrics.AdmissionsTotal.WithLabelValues(resource, "denied").Inc()
	metrics.DenialsTotal.WithLabelValues(string(res.Kind)).Inc()
	if s.hits != nil {
		s.hits.Record(hitlog.Entry{
			CallerID:  callerID,
			SessionID: sessionID,
			Kind:      res.Kind,
			Limit:     res.Limit,
			Used:      res.Used,
			Message:   res.Message,
		})
	}
	return &Denial{
		Kind:       res.Kind,
		Limit:      res.Limit,
		Used:       res.Used,
		RetryAfter: res.RetryAfter,
		Message:    res.Message,
	}
}

func denialFrom(d quota.Decision) *Denial {
	return &Denial{
		Kind:      d.Kind,
		Limit:     d.Limit,
		Used:      d.Used,
		Remaining: d.Remaining,
		ResetsAt:  d.ResetsAt,
		Message:   d.Message,
	}
}
