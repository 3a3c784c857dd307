package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemark/gatekeeper/internal/ratelimit"
)

const testSecret = "test-secret-at-least-32-characters!!"

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestResolveTier(t *testing.T) {
	tests := []struct {
		name   string
		claims *Claims
		want   ratelimit.Tier
	}{
		{"anonymous", nil, ratelimit.TierDemo},
		{"empty user id", &Claims{Plan: "premium"}, ratelimit.TierDemo},
		{"no plan", &Claims{UserID: "u1"}, ratelimit.TierAuthenticated},
		{"premium", &Claims{UserID: "u1", Plan: "premium"}, ratelimit.TierPremium},
		{"admin", &Claims{UserID: "u1", Plan: "admin"}, ratelimit.TierAdmin},
		{"unknown plan", &Claims{UserID: "u1", Plan: "platinum"}, ratelimit.TierAuthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveTier(tt.claims))
		})
	}
}

func TestVerifier_ParseValidToken(t *testing.T) {
	v := NewVerifier(testSecret)
	tokenStr := signToken(t, Claims{UserID: "u1", Email: "u1@example.com", Plan: "premium"})

	claims, err := v.Parse(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "premium", claims.Plan)
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	v := NewVerifier("a-completely-different-secret-value!")
	tokenStr := signToken(t, Claims{UserID: "u1"})

	_, err := v.Parse(tokenStr)
	assert.Error(t, err)
}

func TestVerifier_RejectsExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret)
	tokenStr := signToken(t, Claims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})

	_, err := v.Parse(tokenStr)
	assert.Error(t, err)
}

func identityFor(t *testing.T, v *Verifier, mutate func(*http.Request)) Identity {
	t.Helper()
	var got Identity
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetIdentity(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:54321"
	if mutate != nil {
		mutate(req)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestMiddleware_AnonymousKeyedByIP(t *testing.T) {
	ident := identityFor(t, NewVerifier(testSecret), nil)
	assert.Equal(t, "ip:203.0.113.7", ident.CallerID)
	assert.Equal(t, ratelimit.TierDemo, ident.Tier)
}

func TestMiddleware_ValidBearerToken(t *testing.T) {
	v := NewVerifier(testSecret)
	tokenStr := signToken(t, Claims{UserID: "u1", Plan: "admin"})

	ident := identityFor(t, v, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tokenStr)
	})
	assert.Equal(t, "user:u1", ident.CallerID)
	assert.Equal(t, ratelimit.TierAdmin, ident.Tier)
}

func TestMiddleware_InvalidTokenFallsBackToAnonymous(t *testing.T) {
	ident := identityFor(t, NewVerifier(testSecret), func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer not.a.token")
	})
	assert.Equal(t, "ip:203.0.113.7", ident.CallerID)
	assert.Equal(t, ratelimit.TierDemo, ident.Tier)
}

func TestMiddleware_ForwardedForTakesFirstHop(t *testing.T) {
	ident := identityFor(t, NewVerifier(testSecret), func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "198.51.100.9, 203.0.113.7")
	})
	assert.Equal(t, "ip:198.51.100.9", ident.CallerID)
}
