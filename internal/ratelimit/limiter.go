package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casemark/gatekeeper/internal/hitlog"
)

// Result is the outcome of a rate check. RetryAfter is the wait until the
// denial would clear: the remaining throttle interval, or the time until the
// oldest request inside the exhausted window expires.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Kind       hitlog.Kind   `json:"kind,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Used       int           `json:"used,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Message    string        `json:"message,omitempty"`
}

// Limiter decides admission per caller and tier from a minimum inter-request
// interval plus sliding windows over the last minute, hour, and day.
type Limiter struct {
	mu    sync.RWMutex
	tiers Tiers

	store Store
	now   func() time.Time
}

// NewLimiter creates a Limiter over the given store.
func NewLimiter(tiers Tiers, store Store) *Limiter {
	return &Limiter{tiers: tiers, store: store, now: time.Now}
}

// SetTiers swaps the tier table. Used by config refresh.
func (l *Limiter) SetTiers(tiers Tiers) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tiers = tiers
}

// Check evaluates, in order: throttle, per-minute, per-hour, per-day.
// Store errors fail open with a warning so a Redis outage never blocks
// traffic. Check does not record the request; call Record after an allowed
// check and before dispatching downstream work.
func (l *Limiter) Check(ctx context.Context, callerID string, tier Tier) Result {
	l.mu.RLock()
	lim := l.tiers.limitsFor(tier)
	l.mu.RUnlock()

	now := l.now()

	if lim.MinInterval > 0 {
		last, ok, err := l.store.Last(ctx, callerID)
		if err != nil {
			slog.Warn("rate limiter: store error, failing open", "error", err, "caller", callerID)
			return Result{Allowed: true}
		}
		if ok {
			if elapsed := now.Sub(last); elapsed < lim.MinInterval {
				wait := lim.MinInterval - elapsed
				return Result{
					Kind:       hitlog.KindThrottle,
					RetryAfter: wait,
					Message:    fmt.Sprintf("requests must be at least %s apart; retry in %s", lim.MinInterval, wait.Round(time.Millisecond)),
				}
			}
		}
	}

	windows := []struct {
		kind    hitlog.Kind
		span    time.Duration
		ceiling int
	}{
		{hitlog.KindRequestsPerMinute, time.Minute, lim.PerMinute},
		{hitlog.KindRequestsPerHour, time.Hour, lim.PerHour},
		{hitlog.KindRequestsPerDay, 24 * time.Hour, lim.PerDay},
	}

	for _, w := range windows {
		if w.ceiling <= 0 {
			continue
		}
		count, oldest, err := l.store.CountSince(ctx, callerID, now.Add(-w.span))
		if err != nil {
			slog.Warn("rate limiter: store error, failing open", "error", err, "caller", callerID)
			return Result{Allowed: true}
		}
		if count >= w.ceiling {
			retry := time.Duration(0)
			if !oldest.IsZero() {
				retry = oldest.Add(w.span).Sub(now)
				if retry < 0 {
					retry = 0
				}
			}
			return Result{
				Kind:       w.kind,
				Limit:      w.ceiling,
				Used:       count,
				RetryAfter: retry,
				Message:    fmt.Sprintf("%d requests in the last %s reached the limit of %d", count, w.span, w.ceiling),
			}
		}
	}

	return Result{Allowed: true}
}

// Record appends the current instant to the caller's sequence. Must follow
// an allowed Check and precede the downstream call, keeping the bypass
// window for concurrent requests as small as possible.
func (l *Limiter) Record(ctx context.Context, callerID string) {
	if err := l.store.Record(ctx, callerID, l.now()); err != nil {
		slog.Warn("rate limiter: recording request", "error", err, "caller", callerID)
	}
}

// Compact removes timestamps older than the retention window from every
// caller. Called periodically by the janitor to bound memory.
func (l *Limiter) Compact(ctx context.Context) {
	if err := l.store.Compact(ctx, l.now().Add(-retention)); err != nil {
		slog.Warn("rate limiter: compacting store", "error", err)
	}
}
