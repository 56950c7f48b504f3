// Package server implements the HTTP transport layer for the Plexus gateway:
// the OpenAI- and Anthropic-compatible client API, the admin API, and the
// system endpoints.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plexushq/plexus/internal/config"
	"github.com/plexushq/plexus/internal/cooldown"
	"github.com/plexushq/plexus/internal/metrics"
	"github.com/plexushq/plexus/internal/provider"
	"github.com/plexushq/plexus/internal/quota"
	"github.com/plexushq/plexus/internal/router"
	"github.com/plexushq/plexus/internal/storage"
	"github.com/plexushq/plexus/internal/storage/debugfs"
	"github.com/plexushq/plexus/internal/worker"
)

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Config    *config.Store
	Router    *router.Router
	Invoker   *provider.Invoker
	Cooldowns *cooldown.Manager
	Quotas    *quota.Tracker
	Traces    *worker.TraceWriter
	Collector *metrics.Collector

	Metrics  *metrics.Metrics     // nil = no request metrics
	Registry *prometheus.Registry // nil = no /metrics endpoint
	Debug    *debugfs.Store       // nil = no debug captures
	DB       storage.Store        // nil = readiness skips the DB ping

	Version        string
	RequestTimeout time.Duration // 0 = no per-request ceiling
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(s.logging)

	// System endpoints (no auth)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// Client-facing API
	r.Group(func(r chi.Router) {
		r.Use(s.clientAuth)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Post("/v1/messages", s.handleMessages)
		r.Get("/v1/models", s.handleListModels)
	})

	// Admin API
	r.Route("/v0", func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handleWriteConfig)
		r.Get("/config/status", s.handleConfigStatus)
		r.Post("/config/reload", s.handleConfigReload)
		r.Get("/events", s.handleEvents)
		r.Get("/management/performance", s.handleGetPerformance)
		r.Delete("/management/performance", s.handleResetPerformance)
	})

	return r
}

type server struct {
	deps Deps
}
