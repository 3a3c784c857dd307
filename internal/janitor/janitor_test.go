package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casemark/gatekeeper/internal/jobs"
	"github.com/casemark/gatekeeper/internal/quota"
	"github.com/casemark/gatekeeper/internal/ratelimit"
)

func TestStart_RunsImmediateSweep(t *testing.T) {
	tracker := quota.NewTracker(quota.Limits{TokensPerSession: 50000}, nil)
	limiter := ratelimit.NewLimiter(ratelimit.Tiers{ratelimit.TierDemo: {}}, ratelimit.NewMemStore())
	queue := jobs.NewQueue(jobs.Limits{MaxConcurrentJobs: 3}, tracker, nil)

	// A session near its ceiling; with a zero TTL the first sweep drops it.
	tracker.TrackUsage("user:1", "sess-1", 30000)
	require.False(t, tracker.CheckLimits("user:1", "sess-1", 25000, "").Allowed)

	j := New(tracker, limiter, queue, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, j.Start(ctx))

	require.Eventually(t, func() bool {
		return tracker.CheckLimits("user:1", "sess-1", 25000, "").Allowed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStop_IsIdempotentWithContextCancel(t *testing.T) {
	tracker := quota.NewTracker(quota.Limits{}, nil)
	limiter := ratelimit.NewLimiter(ratelimit.Tiers{ratelimit.TierDemo: {}}, ratelimit.NewMemStore())
	queue := jobs.NewQueue(jobs.Limits{}, tracker, nil)

	j := New(tracker, limiter, queue, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, j.Start(ctx))

	cancel()
	j.Stop()
}
