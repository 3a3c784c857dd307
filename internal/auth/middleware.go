package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/casemark/gatekeeper/internal/ratelimit"
)

type contextKey string

const identityKey contextKey = "identity"

// Middleware resolves every request to an Identity. Requests with a valid
// bearer token are keyed by user ID and tiered from their claims; everything
// else is keyed by client IP on the demo tier. Invalid tokens are treated as
// anonymous rather than rejected — admission control is the gate here, not
// authentication.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := Identity{
				CallerID: "ip:" + clientIP(r),
				Tier:     ratelimit.TierDemo,
			}

			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
					if claims, err := v.Parse(parts[1]); err == nil {
						ident = Identity{
							CallerID: "user:" + claims.UserID,
							Tier:     ResolveTier(claims),
						}
					}
				}
			}

			ctx := context.WithValue(r.Context(), identityKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity returns the identity resolved by Middleware. The zero value's
// empty CallerID signals a request that bypassed the middleware (tests).
func GetIdentity(ctx context.Context) Identity {
	ident, _ := ctx.Value(identityKey).(Identity)
	return ident
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For first (trusted reverse proxy); take the first hop.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
