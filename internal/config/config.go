package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Auth     AuthConfig
	Quota    QuotaConfig
	OCR      OCRConfig
	Rate     RateConfig
	HitLog   HitLogConfig
	Features FeatureConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	// Enabled controls whether denial hits are persisted to PostgreSQL.
	Enabled bool
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Enabled switches the rate limiter to the shared Redis store.
	Enabled bool
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Subject string
	Enabled bool
}

type AuthConfig struct {
	// JWTSecret verifies access tokens issued by the identity service.
	// Requests without a valid token fall back to the demo tier.
	JWTSecret string
}

// QuotaConfig holds LLM token ceilings for the four quota horizons.
// A ceiling of 0 means no cap.
type QuotaConfig struct {
	MaxTokensPerRequest int `validate:"gte=0"`
	MaxTokensPerSession int `validate:"gte=0"`
	MaxTokensPerDay     int `validate:"gte=0"`
	MaxTokensPerMonth   int `validate:"gte=0"`

	OverrideKey string
	SessionTTL  time.Duration
}

// OCRConfig holds document ingestion ceilings.
type OCRConfig struct {
	MaxFileSizeBytes    int64 `validate:"gte=0"`
	MaxPagesPerDocument int   `validate:"gte=0"`
	MaxDocsPerSession   int   `validate:"gte=0"`
	MaxPagesPerSession  int   `validate:"gte=0"`
	MaxPagesPerDay      int   `validate:"gte=0"`
	MaxConcurrentJobs   int   `validate:"gte=0"`

	AllowedTypes []string
	BypassKey    string
}

// TierConfig holds the rate ceilings for one caller tier.
// Zero values mean unbounded.
type TierConfig struct {
	MinInterval time.Duration
	PerMinute   int `validate:"gte=0"`
	PerHour     int `validate:"gte=0"`
	PerDay      int `validate:"gte=0"`
}

type RateConfig struct {
	Demo          TierConfig
	Authenticated TierConfig
	Premium       TierConfig
}

type HitLogConfig struct {
	Capacity int `validate:"gt=0"`
}

// FeatureConfig carries informational feature flags. They are exposed on the
// config surface for operators but not enforced by this service.
type FeatureConfig struct {
	ChatEnabled bool
	OCREnabled  bool
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        k.String("server.host"),
			Port:        k.Int("server.port"),
			CORSOrigins: k.Strings("server.cors.origins"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
			Enabled:  k.Bool("db.enabled"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
			Enabled:  k.Bool("redis.enabled"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Subject: k.String("nats.subject"),
			Enabled: k.Bool("nats.enabled"),
		},
		Auth: AuthConfig{
			JWTSecret: k.String("auth.jwt.secret"),
		},
		Quota: QuotaConfig{
			MaxTokensPerRequest: k.Int("quota.tokens.per.request"),
			MaxTokensPerSession: k.Int("quota.tokens.per.session"),
			MaxTokensPerDay:     k.Int("quota.tokens.per.day"),
			MaxTokensPerMonth:   k.Int("quota.tokens.per.month"),
			OverrideKey:         k.String("quota.override.key"),
		},
		OCR: OCRConfig{
			MaxFileSizeBytes:    k.Int64("ocr.max.file.bytes"),
			MaxPagesPerDocument: k.Int("ocr.pages.per.document"),
			MaxDocsPerSession:   k.Int("ocr.docs.per.session"),
			MaxPagesPerSession:  k.Int("ocr.pages.per.session"),
			MaxPagesPerDay:      k.Int("ocr.pages.per.day"),
			MaxConcurrentJobs:   k.Int("ocr.max.concurrent.jobs"),
			AllowedTypes:        k.Strings("ocr.allowed.types"),
			BypassKey:           k.String("ocr.bypass.key"),
		},
		HitLog: HitLogConfig{
			Capacity: k.Int("hitlog.capacity"),
		},
		Features: FeatureConfig{
			ChatEnabled: k.Bool("features.chat"),
			OCREnabled:  k.Bool("features.ocr"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "gatekeeper"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "gatekeeper"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "gatekeeper.hits"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	applyQuotaDefaults(&cfg.Quota, k)
	applyOCRDefaults(&cfg.OCR)
	cfg.Rate = loadRateConfig(k)

	if cfg.HitLog.Capacity == 0 {
		cfg.HitLog.Capacity = 1000
	}
	if !k.Exists("features.chat") {
		cfg.Features.ChatEnabled = true
	}
	if !k.Exists("features.ocr") {
		cfg.Features.OCREnabled = true
	}

	return cfg, nil
}

func applyQuotaDefaults(q *QuotaConfig, k *koanf.Koanf) {
	if !k.Exists("quota.tokens.per.request") {
		q.MaxTokensPerRequest = 4000
	}
	if !k.Exists("quota.tokens.per.session") {
		q.MaxTokensPerSession = 50000
	}
	if !k.Exists("quota.tokens.per.day") {
		q.MaxTokensPerDay = 100000
	}
	if !k.Exists("quota.tokens.per.month") {
		q.MaxTokensPerMonth = 2000000
	}

	ttlStr := k.String("quota.session.ttl")
	if ttlStr == "" {
		ttlStr = "24h"
	}
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		ttl = 24 * time.Hour
	}
	q.SessionTTL = ttl
}

func applyOCRDefaults(o *OCRConfig) {
	if o.MaxFileSizeBytes == 0 {
		o.MaxFileSizeBytes = 25 << 20 // 25 MiB
	}
	if o.MaxPagesPerDocument == 0 {
		o.MaxPagesPerDocument = 30
	}
	if o.MaxDocsPerSession == 0 {
		o.MaxDocsPerSession = 5
	}
	if o.MaxPagesPerSession == 0 {
		o.MaxPagesPerSession = 60
	}
	if o.MaxPagesPerDay == 0 {
		o.MaxPagesPerDay = 50
	}
	if o.MaxConcurrentJobs == 0 {
		o.MaxConcurrentJobs = 3
	}
	if len(o.AllowedTypes) == 0 {
		o.AllowedTypes = []string{"application/pdf", "image/png", "image/jpeg", "image/tiff"}
	}
}

func loadRateConfig(k *koanf.Koanf) RateConfig {
	tier := func(prefix string, def TierConfig) TierConfig {
		t := def
		if k.Exists(prefix + ".interval") {
			if d, err := time.ParseDuration(k.String(prefix + ".interval")); err == nil {
				t.MinInterval = d
			}
		}
		if k.Exists(prefix + ".per.minute") {
			t.PerMinute = k.Int(prefix + ".per.minute")
		}
		if k.Exists(prefix + ".per.hour") {
			t.PerHour = k.Int(prefix + ".per.hour")
		}
		if k.Exists(prefix + ".per.day") {
			t.PerDay = k.Int(prefix + ".per.day")
		}
		return t
	}

	return RateConfig{
		Demo: tier("rate.demo", TierConfig{
			MinInterval: 3 * time.Second,
			PerMinute:   10,
			PerHour:     100,
			PerDay:      500,
		}),
		Authenticated: tier("rate.authenticated", TierConfig{
			MinInterval: time.Second,
			PerMinute:   30,
			PerHour:     500,
			PerDay:      5000,
		}),
		Premium: tier("rate.premium", TierConfig{
			MinInterval: 200 * time.Millisecond,
			PerMinute:   120,
			PerHour:     2000,
			PerDay:      20000,
		}),
	}
}
