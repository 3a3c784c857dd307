package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemark/gatekeeper/internal/hitlog"
	"github.com/casemark/gatekeeper/internal/jobs"
	"github.com/casemark/gatekeeper/internal/quota"
	"github.com/casemark/gatekeeper/internal/ratelimit"
)

// newTestService builds a service over in-memory components. The demo tier
// gets a one-hour throttle so rate denials are deterministic without a clock.
func newTestService(t *testing.T) (*Service, *hitlog.Log) {
	t.Helper()

	log := hitlog.New(100)
	tracker := quota.NewTracker(quota.Limits{
		TokensPerRequest: 4000,
		TokensPerSession: 50000,
		TokensPerDay:     100000,
		TokensPerMonth:   2000000,
		PagesPerDocument: 30,
		DocsPerSession:   5,
		PagesPerSession:  60,
		PagesPerDay:      50,
		OverrideKey:      "override-secret",
	}, log)
	limiter := ratelimit.NewLimiter(ratelimit.Tiers{
		ratelimit.TierDemo:    {MinInterval: time.Hour},
		ratelimit.TierPremium: {},
		ratelimit.TierAdmin:   {},
	}, ratelimit.NewMemStore())
	queue := jobs.NewQueue(jobs.Limits{
		MaxConcurrentJobs: 3,
		MaxFileSizeBytes:  25 << 20,
		AllowedTypes:      []string{"application/pdf"},
		BypassKey:         "bypass-secret",
	}, tracker, log)

	return NewService(limiter, tracker, queue, log, nil), log
}

func TestAdmitChat_Allowed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	allowance, denial := svc.AdmitChat(ctx, "user:1", "sess-1", ratelimit.TierPremium, "", 3000, "")
	require.Nil(t, denial)
	assert.Equal(t, 3000, allowance.Units)
	assert.Equal(t, 47000, allowance.Remaining)
}

func TestAdmitChat_RateBeforeQuota(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()

	_, denial := svc.AdmitChat(ctx, "user:1", "sess-1", ratelimit.TierDemo, "", 3000, "")
	require.Nil(t, denial)

	// The second demo request lands inside the throttle interval; the
	// denial is a rate kind even though quota would also have allowed it.
	_, denial = svc.AdmitChat(ctx, "user:1", "sess-1", ratelimit.TierDemo, "", 3000, "")
	require.NotNil(t, denial)
	assert.Equal(t, hitlog.KindThrottle, denial.Kind)
	assert.Greater(t, denial.RetryAfter, time.Duration(0))

	entries := log.ByKind(hitlog.KindThrottle)
	require.Len(t, entries, 1)
	assert.Equal(t, "sess-1", entries[0].SessionID)
}

func TestAdmitChat_QuotaDenial(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()

	_, denial := svc.AdmitChat(ctx, "user:1", "sess-1", ratelimit.TierPremium, "", 5000, "")
	require.NotNil(t, denial)
	assert.Equal(t, hitlog.KindPerRequest, denial.Kind)
	assert.Equal(t, 4000, denial.Limit)

	require.Len(t, log.ByKind(hitlog.KindPerRequest), 1)
}

func TestAdmitChat_DefaultsToOneUnit(t *testing.T) {
	svc, _ := newTestService(t)

	allowance, denial := svc.AdmitChat(context.Background(), "user:1", "sess-1", ratelimit.TierPremium, "", 0, "")
	require.Nil(t, denial)
	assert.Equal(t, 1, allowance.Units)
}

func TestAdmitChat_Override(t *testing.T) {
	svc, _ := newTestService(t)

	allowance, denial := svc.AdmitChat(context.Background(), "user:1", "sess-1", ratelimit.TierPremium, "", 99999, "override-secret")
	require.Nil(t, denial)
	assert.True(t, allowance.Override)
}

func TestCommitChat_FeedsQuota(t *testing.T) {
	svc, _ := newTestService(t)

	svc.CommitChat("user:1", "sess-1", 48000)

	_, denial := svc.AdmitChat(context.Background(), "user:1", "sess-1", ratelimit.TierPremium, "", 3000, "")
	require.NotNil(t, denial)
	assert.Equal(t, hitlog.KindPerSession, denial.Kind)
	assert.Equal(t, 2000, denial.Remaining)
}

func TestAdmitOCRJob_FullLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	view, denial := svc.AdmitOCRJob(ctx, "user:1", "sess-1", ratelimit.TierPremium, "application/pdf", 1<<20, 10, "")
	require.Nil(t, denial)
	assert.Equal(t, jobs.StatusQueued, view.Status)

	started, ok := svc.StartJob(view.ID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusProcessing, started.Status)

	done, ok := svc.CompleteJob(view.ID, 8)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, done.Status)
	assert.Equal(t, 8, done.ActualPages)

	stats := svc.UsageStats("user:1", "sess-1")
	assert.Equal(t, 8, stats.SessionPages.Used)
	assert.Equal(t, 1, stats.SessionDocs.Used)
}

func TestAdmitOCRJob_FileDenialBeforeRate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Exhaust the demo throttle first.
	_, denial := svc.AdmitChat(ctx, "user:1", "sess-1", ratelimit.TierDemo, "", 100, "")
	require.Nil(t, denial)

	// A bad file reports the validation failure, not the rate denial.
	_, denial = svc.AdmitOCRJob(ctx, "user:1", "sess-1", ratelimit.TierDemo, "application/zip", 1<<20, 10, "")
	require.NotNil(t, denial)
	assert.Equal(t, hitlog.KindFileType, denial.Kind)
}

func TestAdmitOCRJob_QueueFull(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, denial := svc.AdmitOCRJob(ctx, "user:1", "sess-1", ratelimit.TierPremium, "application/pdf", 1<<20, 5, "")
		require.Nil(t, denial)
	}

	_, denial := svc.AdmitOCRJob(ctx, "user:1", "sess-1", ratelimit.TierPremium, "application/pdf", 1<<20, 5, "")
	require.NotNil(t, denial)
	assert.Equal(t, hitlog.KindQueueFull, denial.Kind)

	require.Len(t, log.ByKind(hitlog.KindQueueFull), 1)
}

func TestFailJob_NoUsageCommitted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	view, denial := svc.AdmitOCRJob(ctx, "user:1", "sess-1", ratelimit.TierPremium, "application/pdf", 1<<20, 10, "")
	require.Nil(t, denial)

	svc.StartJob(view.ID)
	_, ok := svc.FailJob(view.ID, "engine crashed")
	require.True(t, ok)

	stats := svc.UsageStats("user:1", "sess-1")
	assert.Equal(t, 0, stats.SessionPages.Used)
	assert.Equal(t, 0, stats.SessionDocs.Used)
}

func TestResetSession(t *testing.T) {
	svc, _ := newTestService(t)

	svc.CommitChat("user:1", "sess-1", 30000)
	svc.ResetSession("sess-1")

	stats := svc.UsageStats("user:1", "sess-1")
	assert.Equal(t, 0, stats.Session.Used)
	assert.Equal(t, 30000, stats.Daily.Used)
}
