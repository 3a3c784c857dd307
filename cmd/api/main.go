package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/casemark/gatekeeper/internal/admission"
	"github.com/casemark/gatekeeper/internal/api"
	"github.com/casemark/gatekeeper/internal/auth"
	"github.com/casemark/gatekeeper/internal/config"
	"github.com/casemark/gatekeeper/internal/database"
	"github.com/casemark/gatekeeper/internal/events"
	"github.com/casemark/gatekeeper/internal/hitlog"
	"github.com/casemark/gatekeeper/internal/janitor"
	"github.com/casemark/gatekeeper/internal/jobs"
	"github.com/casemark/gatekeeper/internal/quota"
	"github.com/casemark/gatekeeper/internal/ratelimit"
	iredis "github.com/casemark/gatekeeper/internal/redis"
	"github.com/casemark/gatekeeper/internal/server"
	"github.com/casemark/gatekeeper/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("validating config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	routerCfg := api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
	}

	// Hit log sinks: PostgreSQL and NATS are both optional; the in-memory
	// log is always authoritative.
	var sinks []hitlog.Sink

	if cfg.DB.Enabled {
		if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
		pool, err := database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			slog.Error("connecting to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		repo := hitlog.NewRepository(pool)
		defer repo.Close()
		sinks = append(sinks, repo)
		routerCfg.DBHealthy = func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }
	}

	if cfg.NATS.Enabled {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
		routerCfg.NATSHealthy = pub.Healthy
	}

	hits := hitlog.New(cfg.HitLog.Capacity, sinks...)

	// Rate limiter store: in-process by default, Redis when instances must
	// share state.
	rateStore := ratelimit.NewMemStore()
	if cfg.Redis.Enabled {
		client, err := iredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Error("connecting to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		rateStore = ratelimit.NewRedisStore(client)
		routerCfg.RedisHealthy = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	estimator, err := tokens.NewEstimator("gpt-4")
	if err != nil {
		slog.Error("loading token encoding", "error", err)
		os.Exit(1)
	}

	tracker := quota.NewTracker(admission.QuotaLimits(cfg), hits)
	limiter := ratelimit.NewLimiter(ratelimit.TiersFromConfig(cfg.Rate), rateStore)
	queue := jobs.NewQueue(admission.QueueLimits(cfg), tracker, hits)

	svc := admission.NewService(limiter, tracker, queue, hits, estimator)
	handler := admission.NewHandler(svc)

	jan := janitor.New(tracker, limiter, queue, cfg.Quota.SessionTTL)
	if err := jan.Start(ctx); err != nil {
		slog.Error("starting janitor", "error", err)
		os.Exit(1)
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	router := api.NewRouter(routerCfg, api.HandlerSet{
		AdmitChat:  handler.AdmitChat,
		CommitChat: handler.CommitChat,
		Usage:      handler.Usage,

		ResetSession: handler.ResetSession,

		CreateJob:   handler.CreateJob,
		GetJob:      handler.GetJob,
		StartJob:    handler.StartJob,
		CompleteJob: handler.CompleteJob,
		FailJob:     handler.FailJob,
		CancelJob:   handler.CancelJob,

		ListHits:  handler.ListHits,
		HitStats:  handler.HitStats,
		ClearHits: handler.ClearHits,

		RefreshConfig: handler.RefreshConfig,

		IdentityMiddleware: auth.Middleware(verifier),
	})

	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
