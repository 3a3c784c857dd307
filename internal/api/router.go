package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/casemark/gatekeeper/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import
// cycles between the router and the domain packages.
type HandlerSet struct {
	// Chat admission
	AdmitChat  http.HandlerFunc
	CommitChat http.HandlerFunc
	Usage      http.HandlerFunc

	// Sessions
	ResetSession http.HandlerFunc

	// OCR jobs
	CreateJob   http.HandlerFunc
	GetJob      http.HandlerFunc
	StartJob    http.HandlerFunc
	CompleteJob http.HandlerFunc
	FailJob     http.HandlerFunc
	CancelJob   http.HandlerFunc

	// Hit log
	ListHits  http.HandlerFunc
	HitStats  http.HandlerFunc
	ClearHits http.HandlerFunc

	// Admin
	RefreshConfig http.HandlerFunc

	// Identity resolution (caller ID + tier)
	IdentityMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string

	// Readiness checks; nil means the dependency is not configured.
	DBHealthy    func(context.Context) error
	RedisHealthy func(context.Context) error
	NATSHealthy  func() bool
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks optional backing stores. The admission core
	// is purely in-memory, so a degraded store only downgrades, never 503s,
	// unless every configured dependency is down.
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		if cfg.DBHealthy != nil {
			health["database"] = "healthy"
			if err := cfg.DBHealthy(r.Context()); err != nil {
				health["database"] = "unhealthy"
				health["status"] = "degraded"
			}
		}
		if cfg.RedisHealthy != nil {
			health["redis"] = "healthy"
			if err := cfg.RedisHealthy(r.Context()); err != nil {
				health["redis"] = "unhealthy"
				health["status"] = "degraded"
			}
		}
		if cfg.NATSHealthy != nil {
			health["nats"] = "healthy"
			if !cfg.NATSHealthy() {
				health["nats"] = "unhealthy"
				health["status"] = "degraded"
			}
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1 — every route runs through identity resolution; admission
	// itself is the gate, so there is no auth rejection at this layer.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.IdentityMiddleware)

		r.Route("/admission", func(r chi.Router) {
			r.Post("/chat", h.AdmitChat)
			r.Post("/chat/commit", h.CommitChat)
		})

		r.Get("/usage", h.Usage)
		r.Post("/sessions/{sessionID}/reset", h.ResetSession)

		r.Route("/ocr/jobs", func(r chi.Router) {
			r.Post("/", h.CreateJob)

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", h.GetJob)
				r.Post("/start", h.StartJob)
				r.Post("/complete", h.CompleteJob)
				r.Post("/fail", h.FailJob)
				r.Post("/cancel", h.CancelJob)
			})
		})

		r.Route("/hits", func(r chi.Router) {
			r.Get("/", h.ListHits)
			r.Get("/stats", h.HitStats)
			r.Delete("/", h.ClearHits)
		})

		r.Post("/admin/config/refresh", h.RefreshConfig)
	})

	return r
}
