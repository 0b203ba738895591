// ABOUTME: HTTP server struct, constructor, and handler wiring for the job queue API.
// ABOUTME: Producer/status endpoints live under /api/v1 via huma; /healthz and /metrics on the chi root.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/config"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/queue"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub001/internal/store"
)

// Server holds the dependencies for the HTTP layer. The registry is consulted
// at submission time so unknown job types are rejected synchronously.
type Server struct {
	store       *store.Store
	registry    *queue.Registry
	cfg         *config.Config
	rateLimiter *ipRateLimiter
}

// NewServer creates a Server.
func NewServer(s *store.Store, reg *queue.Registry, cfg *config.Config) *Server {
	evictTTL := cfg.RateLimitEvictTTL
	if evictTTL == 0 {
		evictTTL = 15 * time.Minute
	}
	perMinute := cfg.SubmitRatePerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	rl := newIPRateLimiter(rate.Limit(float64(perMinute)/60), perMinute, evictTTL)
	return &Server{
		store:       s,
		registry:    reg,
		cfg:         cfg,
		rateLimiter: rl,
	}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	var db *pgxpool.Pool
	if srv.store != nil {
		db = srv.store.Pool()
	}
	r := chi.NewRouter()

	// Security headers first so they appear on every response including errors.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			next.ServeHTTP(w, r)
		})
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// Body limit: payload budget plus envelope headroom.
	r.Use(middleware.RequestSize(int64(srv.cfg.MaxPayloadBytes) + 4096))
	r.Use(middleware.Recoverer)

	// ── Infrastructure endpoints ─────────────────────────────────────────────
	r.Get("/healthz", healthzHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	// ── API v1 sub-router with huma (OpenAPI 3.1) ────────────────────────────
	apiRouter := chi.NewRouter()
	apiRouter.Use(srv.submitRateLimit())
	humaConfig := huma.DefaultConfig("Job Queue API", "1.0.0")
	humaConfig.Info.Description = "Durable scheduled job queue: submission, status, and cancellation."
	api := humachi.New(apiRouter, humaConfig)
	registerJobRoutes(api, srv)

	r.Mount("/api/v1", apiRouter)
	return r
}

// healthzHandler reports liveness plus database reachability.
func healthzHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
