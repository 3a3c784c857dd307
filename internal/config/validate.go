package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks Config for operationally-critical problems.
// Ceiling fields are checked via struct tags; structural problems are
// collected into a single joined error. Missing or malformed ceilings were
// already replaced with defaults at load time, so validation failures here
// mean an operator set an explicitly bad value.
func (c *Config) Validate() error {
	var errs []string

	v := validator.New()
	for name, section := range map[string]any{
		"quota":              c.Quota,
		"ocr":                c.OCR,
		"hitlog":             c.HitLog,
		"rate.demo":          c.Rate.Demo,
		"rate.authenticated": c.Rate.Authenticated,
		"rate.premium":       c.Rate.Premium,
	} {
		if err := v.Struct(section); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Enabled && c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required when DB_ENABLED is set")
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Override keys: warn only, enforcement simply stays on without them
	if c.Quota.OverrideKey == "" {
		slog.Warn("QUOTA_OVERRIDE_KEY is empty — admin override disabled")
	}
	if c.Auth.JWTSecret == "" {
		slog.Warn("AUTH_JWT_SECRET is empty — all callers resolve to the demo tier")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
