// Package api implements the headless JSON control plane of spec.md
// §6.1, grounded on the teacher's chi-based Server/Handler shape with
// the HTML/session surface dropped (see DESIGN.md).
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/seznam/gsast-go/internal/config"
	"github.com/seznam/gsast-go/internal/coordinator"
	"github.com/seznam/gsast-go/internal/plugins"
	"github.com/seznam/gsast-go/internal/repos"
	"github.com/seznam/gsast-go/internal/results"
	"github.com/seznam/gsast-go/internal/store"
	"github.com/seznam/gsast-go/internal/tasks"
)

// Server is the control-plane HTTP surface: it validates requests,
// spawns a detached Coordinator per scan, and serves status/results
// reads against the store the coordinator and workers share.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	tasksQ   *tasks.Queue
	registry *plugins.Registry
	source   func(config.Provider) (repos.Source, error)
	admin    *coordinator.Admin
	results  *results.Store

	rateLimitMu  sync.Mutex
	rateLimiters map[string]*rateLimiterEntry
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option configures a Server, following the teacher's functional-options
// construction pattern.
type Option func(*Server)

// WithSourceFactory overrides how a repos.Source is resolved for a given
// provider; tests substitute a fake here instead of hitting GitHub/GitLab.
func WithSourceFactory(f func(config.Provider) (repos.Source, error)) Option {
	return func(s *Server) { s.source = f }
}

func New(cfg *config.Config, st *store.Store, tasksQ *tasks.Queue, registry *plugins.Registry, opts ...Option) *Server {
	srv := &Server{
		cfg:          cfg,
		store:        st,
		tasksQ:       tasksQ,
		registry:     registry,
		admin:        coordinator.NewAdmin(st),
		results:      results.New(st.Scans),
		rateLimiters: make(map[string]*rateLimiterEntry),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.source == nil {
		srv.source = defaultSourceFactory(cfg)
	}
	return srv
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/", func(r chi.Router) {
		if s.cfg.APISecretKey != "" {
			r.Use(s.authMiddleware)
		}

		r.With(s.rateLimitMiddleware).Post("/scan", s.handlePostScan)
		r.Get("/scan/{scanID}/status", s.handleGetScanStatus)
		r.Get("/scan/{scanID}/results", s.handleGetScanResults)
		r.Get("/queue/scans", s.handleListScans)
		r.Get("/queue/projects", s.handleListProjects)
		r.Delete("/queue/cleanup", s.handleCleanupQueues)
		r.Delete("/queue/projects", s.handleCleanupProjects)
	})

	return r
}
