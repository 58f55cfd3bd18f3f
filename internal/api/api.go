// Package api serves the admin surface: rule management, statistics,
// learning status, IP blocks, logs, live events, and metrics exposition.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aegis-waf/aegis-go/internal/config"
	"github.com/aegis-waf/aegis-go/internal/events"
	"github.com/aegis-waf/aegis-go/internal/learning"
	"github.com/aegis-waf/aegis-go/internal/logstore"
	"github.com/aegis-waf/aegis-go/internal/metrics"
	"github.com/aegis-waf/aegis-go/internal/ratelimit"
	"github.com/aegis-waf/aegis-go/internal/rules"
	"github.com/aegis-waf/aegis-go/internal/sse"
	"github.com/aegis-waf/aegis-go/internal/stats"
	"github.com/aegis-waf/aegis-go/internal/ws"
)

// Handler bundles the admin API dependencies.
type Handler struct {
	cfg     config.Config
	rules   *rules.Manager
	stats   *stats.Collector
	learner *learning.Learner
	limiter *ratelimit.Limiter
	metrics *metrics.WAF
	logs    logstore.Store
	sse     *sse.Handler
	ws      *ws.Manager
	logger  *slog.Logger
}

// New creates the admin handler.
func New(cfg config.Config, rm *rules.Manager, collector *stats.Collector,
	learner *learning.Learner, limiter *ratelimit.Limiter, m *metrics.WAF,
	logs logstore.Store, bus *events.Bus, wsManager *ws.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		rules:   rm,
		stats:   collector,
		learner: learner,
		limiter: limiter,
		metrics: m,
		logs:    logs,
		sse:     sse.NewHandler(bus, logger),
		ws:      wsManager,
		logger:  logger,
	}
}

// Router builds the admin routes. Everything under /api except the event
// stream and health check requires the configured API key.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", h.Health)
	r.Get("/metrics", h.Metrics)
	r.Get("/ws", h.ws.HandleWS)

	r.Route("/api", func(api chi.Router) {
		api.Get("/events", h.sse.ServeHTTP)

		api.Group(func(priv chi.Router) {
			priv.Use(h.requireAPIKey)

			priv.Route("/rules", func(rr chi.Router) {
				rr.Get("/", h.ListRules)
				rr.Post("/", h.CreateRule)
				rr.Get("/stats", h.RuleStats)
				rr.Post("/import", h.ImportRules)
				rr.Post("/export", h.ExportRules)
				rr.Get("/{id}", h.GetRule)
				rr.Put("/{id}", h.UpdateRule)
				rr.Delete("/{id}", h.DeleteRule)
				rr.Post("/{id}/toggle", h.ToggleRule)
			})

			priv.Get("/stats", h.Stats)
			priv.Post("/stats/reset", h.ResetStats)

			priv.Get("/learning", h.LearningStatus)

			priv.Get("/blocks", h.ListBlocks)
			priv.Post("/blocks", h.AddBlock)
			priv.Delete("/blocks/{ip}", h.DeleteBlock)

			priv.Get("/logs", h.Logs)
			priv.Get("/config", h.Config)
		})
	})

	return r
}

// requireAPIKey rejects requests whose X-API-Key header does not match the
// configured key. With no key configured the admin API is open; that is a
// deliberate local-development posture.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.APIKey != "" && r.Header.Get("X-API-Key") != h.cfg.APIKey {
			jsonError(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"phase":  h.learner.Phase().String(),
	})
}

// Metrics handles GET /metrics with Prometheus text exposition.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if err := h.metrics.Registry.WriteText(w); err != nil {
		h.logger.Warn("metrics write failed", "err", err)
	}
}

// Config handles GET /api/config, returning the effective configuration
// with the API key redacted.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg
	if cfg.APIKey != "" {
		cfg.APIKey = "[redacted]"
	}
	if cfg.DatabaseURL != "" {
		cfg.DatabaseURL = "[redacted]"
	}
	writeJSON(w, http.StatusOK, cfg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
