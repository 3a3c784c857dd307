package quota

import (
	"crypto/subtle"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/casemark/gatekeeper/internal/hitlog"
)

// Tracker maintains per-caller token and page counters across the four quota
// horizons (request, session, day, month) and decides admission for a
// requested quantity. One Tracker is constructed at process start and shared
// by reference; a single coarse mutex guards all maps, which is comfortably
// cheap at the microsecond cost of each decision.
type Tracker struct {
	mu       sync.Mutex
	limits   Limits
	usage    map[string]*usageRecord   // keyed by caller ID
	sessions map[string]*sessionRecord // keyed by session ID

	hits hitlog.Recorder
	now  func() time.Time
}

// NewTracker creates a Tracker enforcing the given limits. Denials are
// forwarded to hits; pass nil to disable forwarding (tests).
func NewTracker(limits Limits, hits hitlog.Recorder) *Tracker {
	return &Tracker{
		limits:   limits,
		usage:    make(map[string]*usageRecord),
		sessions: make(map[string]*sessionRecord),
		hits:     hits,
		now:      time.Now,
	}
}

// SetLimits swaps the enforced ceilings. Used by config refresh; existing
// counters are untouched.
func (t *Tracker) SetLimits(limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits = limits
}

// CheckLimits evaluates the four token-quota horizons in order and returns
// on the first failure: per_request, per_session, daily, monthly. A matching
// override key skips every check up front so a privileged caller never
// observes partial limit state.
func (t *Tracker) CheckLimits(callerID, sessionID string, requested int, overrideKey string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.overrideMatches(overrideKey) {
		return Decision{Allowed: true, Override: true}
	}

	now := t.now()
	lim := t.limits

	if exceeds(requested, 0, lim.TokensPerRequest) {
		return t.denyLocked(callerID, sessionID, Decision{
			Kind:      hitlog.KindPerRequest,
			Limit:     lim.TokensPerRequest,
			Used:      requested,
			Remaining: clamp(lim.TokensPerRequest - requested),
			Message:   fmt.Sprintf("request of %d tokens exceeds the per-request limit of %d", requested, lim.TokensPerRequest),
		})
	}

	sess := t.getOrCreateSessionLocked(sessionID, now)
	if exceeds(requested, sess.tokens, lim.TokensPerSession) {
		return t.denyLocked(callerID, sessionID, Decision{
			Kind:      hitlog.KindPerSession,
			Limit:     lim.TokensPerSession,
			Used:      sess.tokens,
			Remaining: clamp(lim.TokensPerSession - sess.tokens),
			Message:   fmt.Sprintf("session limit of %d tokens reached; start a new chat to continue", lim.TokensPerSession),
		})
	}

	rec := t.getOrCreateUsageLocked(callerID, now)
	if exceeds(requested, rec.dailyTokens, lim.TokensPerDay) {
		resetsAt := rec.dailyResetAt
		return t.denyLocked(callerID, sessionID, Decision{
			Kind:      hitlog.KindDaily,
			Limit:     lim.TokensPerDay,
			Used:      rec.dailyTokens,
			Remaining: clamp(lim.TokensPerDay - rec.dailyTokens),
			ResetsAt:  &resetsAt,
			Message:   fmt.Sprintf("daily limit of %d tokens reached; resets at next UTC midnight", lim.TokensPerDay),
		})
	}
	if exceeds(requested, rec.monthlyTokens, lim.TokensPerMonth) {
		resetsAt := rec.monthlyResetAt
		return t.denyLocked(callerID, sessionID, Decision{
			Kind:      hitlog.KindMonthly,
			Limit:     lim.TokensPerMonth,
			Used:      rec.monthlyTokens,
			Remaining: clamp(lim.TokensPerMonth - rec.monthlyTokens),
			ResetsAt:  &resetsAt,
			Message:   fmt.Sprintf("monthly limit of %d tokens reached; resets on the first of next month", lim.TokensPerMonth),
		})
	}

	remaining := remainingAcross(requested,
		pair{sess.tokens, lim.TokensPerSession},
		pair{rec.dailyTokens, lim.TokensPerDay},
		pair{rec.monthlyTokens, lim.TokensPerMonth})
	return Decision{Allowed: true, Remaining: remaining}
}

// CheckOCRLimits evaluates the document ingestion ceilings in order:
// pages_per_document, documents_per_session, pages_per_session,
// pages_per_day. The override key shares the semantics of CheckLimits;
// the OCR-specific bypass secret is handled upstream by the jobs queue.
func (t *Tracker) CheckOCRLimits(callerID, sessionID string, pages int, overrideKey string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.overrideMatches(overrideKey) {
		return Decision{Allowed: true, Override: true}
	}

	now := t.now()
	lim := t.limits

	if exceeds(pages, 0, lim.PagesPerDocument) {
		return t.denyLocked(callerID, sessionID, Decision{
			Kind:      hitlog.KindPagesPerDocument,
			Limit:     lim.PagesPerDocument,
			Used:      pages,
			Remaining: clamp(lim.PagesPerDocument - pages),
			Message:   fmt.Sprintf("document of %d pages exceeds the %d-page limit", pages, lim.PagesPerDocument),
		})
	}

	sess := t.getOrCreateSessionLocked(sessionID, now)
	if exceeds(1, sess.documents, lim.DocsPerSession) {
		return t.denyLocked(callerID, sessionID, Decision{
			Kind:      hitlog.KindDocsPerSession,
			Limit:     lim.DocsPerSession,
			Used:      sess.documents,
			Remaining: clamp(lim.DocsPerSession - sess.documents),
			Message:   fmt.Sprintf("session limit of %d documents reached", lim.DocsPerSession),
		})
	}
	if exceeds(pages, sess.pages, lim.PagesPerSession) {
		return t.denyLocked(callerID, sessionID, Decision{
			Kind:      hitlog.KindPagesPerSession,
			Limit:     lim.PagesPerSession,
			Used:      sess.pages,
			Remaining: clamp(lim.PagesPerSession - sess.pages),
			Message:   fmt.Sprintf("session limit of %d pages reached", lim.PagesPerSession),
		})
	}

	rec := t.getOrCreateUsageLocked(callerID, now)
	if exceeds(pages, rec.dailyPages, lim.PagesPerDay) {
		resetsAt := rec.dailyResetAt
		return t.denyLocked(callerID, sessionID, Decision{
			Kind:      hitlog.KindPagesPerDay,
			Limit:     lim.PagesPerDay,
			Used:      rec.dailyPages,
			Remaining: clamp(lim.PagesPerDay - rec.dailyPages),
			ResetsAt:  &resetsAt,
			Message:   fmt.Sprintf("daily limit of %d pages reached; resets at next UTC midnight", lim.PagesPerDay),
		})
	}

	return Decision{Allowed: true, Remaining: remainingAcross(pages,
		pair{sess.pages, lim.PagesPerSession},
		pair{rec.dailyPages, lim.PagesPerDay})}
}

// TrackUsage commits actual token consumption to the session, daily, and
// monthly counters. Call only after the downstream work completed; the
// check-then-commit window is deliberately not atomic (bounded overshoot of
// one in-flight request per concurrent caller is accepted).
func (t *Tracker) TrackUsage(callerID, sessionID string, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	sess := t.getOrCreateSessionLocked(sessionID, now)
	sess.tokens += tokens
	sess.lastActivityAt = now

	rec := t.getOrCreateUsageLocked(callerID, now)
	rec.dailyTokens += tokens
	rec.monthlyTokens += tokens
}

// TrackOCRUsage commits completed OCR work: pages to the session and daily
// counters, plus one document.
func (t *Tracker) TrackOCRUsage(callerID, sessionID string, pages, documents int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	sess := t.getOrCreateSessionLocked(sessionID, now)
	sess.pages += pages
	sess.documents += documents
	sess.lastActivityAt = now

	rec := t.getOrCreateUsageLocked(callerID, now)
	rec.dailyPages += pages
	rec.dailyDocuments += documents
}

// ResetSession zeroes the session's counters. Daily and monthly counters are
// untouched; a caller cannot launder quota by starting a new chat.
func (t *Tracker) ResetSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// PruneSessions drops sessions idle longer than ttl. Called by the janitor.
// Returns the number removed.
func (t *Tracker) PruneSessions(ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-ttl)
	removed := 0
	for id, sess := range t.sessions {
		if sess.lastActivityAt.Before(cutoff) {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}

// UsageStats returns a display snapshot of every horizon for the caller and
// session, applying reset-on-read first so stale counters never leak out.
func (t *Tracker) UsageStats(callerID, sessionID string) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	lim := t.limits
	rec := t.getOrCreateUsageLocked(callerID, now)
	sess := t.getOrCreateSessionLocked(sessionID, now)

	dailyReset := rec.dailyResetAt
	monthlyReset := rec.monthlyResetAt

	return Stats{
		PerRequestLimit: lim.TokensPerRequest,
		Session:         horizon(sess.tokens, lim.TokensPerSession, nil),
		Daily:           horizon(rec.dailyTokens, lim.TokensPerDay, &dailyReset),
		Monthly:         horizon(rec.monthlyTokens, lim.TokensPerMonth, &monthlyReset),
		SessionPages:    horizon(sess.pages, lim.PagesPerSession, nil),
		SessionDocs:     horizon(sess.documents, lim.DocsPerSession, nil),
		DailyPages:      horizon(rec.dailyPages, lim.PagesPerDay, &dailyReset),
		DailyDocuments:  rec.dailyDocuments,
	}
}

// getOrCreateUsageLocked fetches the caller's record, rolling counters over
// if a reset boundary was crossed since the last touch. Caller holds the lock.
func (t *Tracker) getOrCreateUsageLocked(callerID string, now time.Time) *usageRecord {
	rec, ok := t.usage[callerID]
	if !ok {
		rec = &usageRecord{
			dailyResetAt:   nextMidnightUTC(now),
			monthlyResetAt: firstOfNextMonthUTC(now),
		}
		t.usage[callerID] = rec
		return rec
	}

	if !now.Before(rec.dailyResetAt) {
		rec.dailyTokens = 0
		rec.dailyPages = 0
		rec.dailyDocuments = 0
		rec.dailyResetAt = nextMidnightUTC(now)
	}
	if !now.Before(rec.monthlyResetAt) {
		rec.monthlyTokens = 0
		rec.monthlyResetAt = firstOfNextMonthUTC(now)
	}
	return rec
}

func (t *Tracker) getOrCreateSessionLocked(sessionID string, now time.Time) *sessionRecord {
	sess, ok := t.sessions[sessionID]
	if !ok {
		sess = &sessionRecord{createdAt: now, lastActivityAt: now}
		t.sessions[sessionID] = sess
	}
	return sess
}

func (t *Tracker) denyLocked(callerID, sessionID string, d Decision) Decision {
	d.Allowed = false
	if t.hits != nil {
		t.hits.Record(hitlog.Entry{
			CallerID:  callerID,
			SessionID: sessionID,
			Kind:      d.Kind,
			Limit:     d.Limit,
			Used:      d.Used,
			Remaining: d.Remaining,
			Message:   d.Message,
		})
	}
	return d
}

func (t *Tracker) overrideMatches(key string) bool {
	secret := t.limits.OverrideKey
	if secret == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(key)) == 1
}

// exceeds reports whether adding requested to used would pass limit.
// A limit of 0 means no cap.
func exceeds(requested, used, limit int) bool {
	return limit > 0 && used+requested > limit
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

type pair struct{ used, limit int }

// remainingAcross returns the tightest post-request headroom across the
// capped horizons, clamped to >= 0. Uncapped horizons are skipped.
func remainingAcross(requested int, pairs ...pair) int {
	best := -1
	for _, p := range pairs {
		if p.limit == 0 {
			continue
		}
		r := clamp(p.limit - p.used - requested)
		if best == -1 || r < best {
			best = r
		}
	}
	if best == -1 {
		return 0
	}
	return best
}

func horizon(used, limit int, resetsAt *time.Time) HorizonStats {
	h := HorizonStats{
		Used:      used,
		Limit:     limit,
		Remaining: clamp(limit - used),
		ResetsAt:  resetsAt,
	}
	if limit > 0 {
		h.PercentUsed = int(math.Round(float64(used) / float64(limit) * 100))
	}
	return h
}

func nextMidnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
}

func firstOfNextMonthUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
