package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/casemark/gatekeeper/internal/ratelimit"
)

// Claims is the claim set carried in access tokens issued by the identity
// service. This service only verifies and reads them.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Plan   string `json:"plan"` // "", "premium", or "admin"
	jwt.RegisteredClaims
}

// Identity is a resolved caller: an opaque ID plus a tier. Anonymous
// requests get their client IP as the ID and the demo tier.
type Identity struct {
	CallerID string
	Tier     ratelimit.Tier
}

// Verifier parses and validates access tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse validates tokenStr and returns its claims.
func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("token verification disabled: no secret configured")
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid access token")
	}
	return claims, nil
}

// ResolveTier maps an already-verified claim set to a tier. A nil claim set
// (anonymous caller) resolves to demo. Unknown plan values resolve to
// authenticated, never higher.
func ResolveTier(claims *Claims) ratelimit.Tier {
	if claims == nil || claims.UserID == "" {
		return ratelimit.TierDemo
	}
	switch claims.Plan {
	case "admin":
		return ratelimit.TierAdmin
	case "premium":
		return ratelimit.TierPremium
	default:
		return ratelimit.TierAuthenticated
	}
}
