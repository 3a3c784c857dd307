package ratelimit

import (
	"time"

	"github.com/casemark/gatekeeper/internal/config"
)

// Tier names a bundle of rate ceilings. Callers arrive with a resolved tier;
// this package never inspects credentials or headers.
type Tier string

const (
	TierDemo          Tier = "demo"
	TierAuthenticated Tier = "authenticated"
	TierPremium       Tier = "premium"
	TierAdmin         Tier = "admin"
)

// TierLimits holds one tier's ceilings. Zero values mean unbounded.
type TierLimits struct {
	MinInterval time.Duration
	PerMinute   int
	PerHour     int
	PerDay      int
}

// Tiers maps every tier to its limits. Admin is always unbounded and is not
// configurable.
type Tiers map[Tier]TierLimits

// TiersFromConfig builds the tier table from the loaded rate config.
func TiersFromConfig(cfg config.RateConfig) Tiers {
	return Tiers{
		TierDemo: {
			MinInterval: cfg.Demo.MinInterval,
			PerMinute:   cfg.Demo.PerMinute,
			PerHour:     cfg.Demo.PerHour,
			PerDay:      cfg.Demo.PerDay,
		},
		TierAuthenticated: {
			MinInterval: cfg.Authenticated.MinInterval,
			PerMinute:   cfg.Authenticated.PerMinute,
			PerHour:     cfg.Authenticated.PerHour,
			PerDay:      cfg.Authenticated.PerDay,
		},
		TierPremium: {
			MinInterval: cfg.Premium.MinInterval,
			PerMinute:   cfg.Premium.PerMinute,
			PerHour:     cfg.Premium.PerHour,
			PerDay:      cfg.Premium.PerDay,
		},
		TierAdmin: {}, // unbounded
	}
}

// limitsFor falls back to demo for unknown tiers so a mistyped tier never
// grants elevated ceilings.
func (t Tiers) limitsFor(tier Tier) TierLimits {
	if lim, ok := t[tier]; ok {
		return lim
	}
	return t[TierDemo]
}
