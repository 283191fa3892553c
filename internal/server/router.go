package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/metrics"
)

// newRouter builds the HTTP routes.
//
// Routes (under the repository mount):
//   - OPTIONS /*: repository root discovery
//   - GET /!api/stat/*, /!api/list/*, /!api/content/*: read view
//   - GET /!api/log: commit history
//   - POST /!api/commit: atomic tree edit
//
// Outside the mount:
//   - GET /health: liveness and head revision
//   - GET /metrics: Prometheus metrics (when enabled)
func newRouter(h *repoHandler, auth *Authenticator, cfg Config, m *metrics.ServerMetrics, log logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(instrument(m))

	r.Get("/health", h.Health)
	if cfg.Metrics && metrics.IsEnabled() {
		r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	repoRoutes := func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireUser(auth, cfg.AnonymousRead, m))

			r.Options("/", h.Discover)
			r.Options("/*", h.Discover)

			r.Get("/!api/stat", h.Stat)
			r.Get("/!api/stat/*", h.Stat)
			r.Get("/!api/list", h.List)
			r.Get("/!api/list/*", h.List)
			r.Get("/!api/content/*", h.Content)
			r.Get("/!api/log", h.Log)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireUser(auth, false, m))
			r.Post("/!api/commit", h.Commit)
		})
	}

	if cfg.Mount == "/" {
		repoRoutes(r)
	} else {
		r.Route(cfg.Mount, repoRoutes)
	}
	return r
}

// requireUser authenticates the request. When authentication is enabled,
// requests without credentials are rejected unless anonymous is set.
func requireUser(auth *Authenticator, anonymous bool, m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			user, err := auth.Authenticate(r)
			if err != nil {
				m.AuthFailure()
				unauthorized(w, err.Error())
				return
			}
			if user == "" && !anonymous {
				unauthorized(w, "authentication required")
				return
			}
			ctx := r.Context()
			if user != "" {
				ctx = withUser(ctx, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// instrument records request counts and latencies by route pattern
func instrument(m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveRequest(route, ww.Status(), time.Since(start))
		})
	}
}

// requestLogger logs each request with its id, status and duration
func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())

			log.Debug("request started",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logArgs := []any{
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			}

			// Probes and discovery are frequent and uninteresting
			if isQuietRequest(r) {
				log.Debug("request completed", logArgs...)
			} else {
				log.Info("request completed", logArgs...)
			}
		})
	}
}

func isQuietRequest(r *http.Request) bool {
	return r.Method == http.MethodOptions ||
		r.URL.Path == "/health" ||
		strings.HasPrefix(r.URL.Path, "/metrics")
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
