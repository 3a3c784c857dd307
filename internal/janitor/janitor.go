// Package janitor runs the periodic cleanup that keeps in-memory state
// bounded: expired sessions, stale rate-limit timestamps, and terminal jobs.
// Per-record quota resets are NOT handled here — those happen lazily on
// read; the janitor only reclaims memory.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/casemark/gatekeeper/internal/jobs"
	"github.com/casemark/gatekeeper/internal/quota"
	"github.com/casemark/gatekeeper/internal/ratelimit"
)

// jobRetention keeps terminal jobs around long enough for late polling.
const jobRetention = 24 * time.Hour

type Janitor struct {
	tracker    *quota.Tracker
	limiter    *ratelimit.Limiter
	queue      *jobs.Queue
	sessionTTL time.Duration
	cron       *cron.Cron
}

// New creates a Janitor over the live components.
func New(tracker *quota.Tracker, limiter *ratelimit.Limiter, queue *jobs.Queue, sessionTTL time.Duration) *Janitor {
	return &Janitor{
		tracker:    tracker,
		limiter:    limiter,
		queue:      queue,
		sessionTTL: sessionTTL,
		cron:       cron.New(),
	}
}

// Start schedules the hourly sweep and begins the cron loop. The sweep also
// runs once immediately so a restart doesn't wait an hour to reclaim memory.
func (j *Janitor) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc("@hourly", func() { j.sweep(ctx) }); err != nil {
		return err
	}
	j.cron.Start()
	go j.sweep(ctx)

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
	return nil
}

// Stop halts scheduling; a sweep in flight finishes.
func (j *Janitor) Stop() {
	stopped := j.cron.Stop()
	<-stopped.Done()
}

func (j *Janitor) sweep(ctx context.Context) {
	start := time.Now()
	sessions := j.tracker.PruneSessions(j.sessionTTL)
	j.limiter.Compact(ctx)
	terminal := j.queue.PruneTerminal(jobRetention)

	slog.Debug("janitor sweep complete",
		"sessions_pruned", sessions,
		"jobs_pruned", terminal,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}
