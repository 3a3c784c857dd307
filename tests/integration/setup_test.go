//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/casemark/gatekeeper/internal/admission"
	"github.com/casemark/gatekeeper/internal/api"
	"github.com/casemark/gatekeeper/internal/auth"
	"github.com/casemark/gatekeeper/internal/hitlog"
	"github.com/casemark/gatekeeper/internal/jobs"
	"github.com/casemark/gatekeeper/internal/quota"
	"github.com/casemark/gatekeeper/internal/ratelimit"
)

const testJWTSecret = "integration-test-secret-32-chars!!!!"

var idCounter atomic.Int64

func uniqueID() int64 { return idCounter.Add(1) }

// TestEnv is one fully wired service instance over in-memory stores.
type TestEnv struct {
	Server  *httptest.Server
	Service *admission.Service
	Hits    *hitlog.Log
}

// SetupTestEnv wires the admission stack behind the production router, the
// same way main.go does, minus the external stores.
func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	log := hitlog.New(1000)
	tracker := quota.NewTracker(quota.Limits{
		TokensPerRequest: 4000,
		TokensPerSession: 50000,
		TokensPerDay:     100000,
		TokensPerMonth:   2000000,
		PagesPerDocument: 30,
		DocsPerSession:   5,
		PagesPerSession:  60,
		PagesPerDay:      50,
		OverrideKey:      "integration-override-key",
		SessionTTL:       24 * time.Hour,
	}, log)
	limiter := ratelimit.NewLimiter(ratelimit.Tiers{
		// Demo keeps a throttle so rate denials are reachable; paid tiers
		// are uncapped to keep the quota paths deterministic.
		ratelimit.TierDemo:          {MinInterval: time.Hour, PerMinute: 10},
		ratelimit.TierAuthenticated: {},
		ratelimit.TierPremium:       {},
		ratelimit.TierAdmin:         {},
	}, ratelimit.NewMemStore())
	queue := jobs.NewQueue(jobs.Limits{
		MaxConcurrentJobs: 3,
		MaxFileSizeBytes:  25 << 20,
		AllowedTypes:      []string{"application/pdf", "image/png"},
		BypassKey:         "integration-bypass-key",
	}, tracker, log)

	svc := admission.NewService(limiter, tracker, queue, log, nil)
	h := admission.NewHandler(svc)

	router := api.NewRouter(api.RouterConfig{}, api.HandlerSet{
		AdmitChat:          h.AdmitChat,
		CommitChat:         h.CommitChat,
		Usage:              h.Usage,
		ResetSession:       h.ResetSession,
		CreateJob:          h.CreateJob,
		GetJob:             h.GetJob,
		StartJob:           h.StartJob,
		CompleteJob:        h.CompleteJob,
		FailJob:            h.FailJob,
		CancelJob:          h.CancelJob,
		ListHits:           h.ListHits,
		HitStats:           h.HitStats,
		ClearHits:          h.ClearHits,
		RefreshConfig:      h.RefreshConfig,
		IdentityMiddleware: auth.Middleware(auth.NewVerifier(testJWTSecret)),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestEnv{Server: server, Service: svc, Hits: log}
}

// TokenFor signs an access token for the given user and plan.
func TokenFor(t *testing.T, userID, plan string) string {
	t.Helper()
	claims := auth.Claims{
		UserID: userID,
		Plan:   plan,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

// DoRequest performs an HTTP call against the test server. The token is
// optional; extra headers may be set through mutate.
func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string, mutate ...func(*http.Request)) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, m := range mutate {
		m(req)
	}

	resp, err := env.Server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ParseResponse decodes a JSON response body into a generic map.
func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var result map[string]any
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

// ParseData unwraps the envelope around a successful response's payload.
// Denial bodies are not enveloped; parse those with ParseResponse.
func ParseData(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	result := ParseResponse(t, resp)
	data, ok := result["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", result)
	return data
}
