package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/metrics"
)

var (
	defaultCORSMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Authorization", "Content-Type", "X-Request-ID"}
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(cors.Handler(s.corsOptions()))
	r.Use(s.bodySizeLimitMiddleware)
	if s.secCfg.RateLimit.Enabled && s.secCfg.RateLimit.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(s.secCfg.RateLimit.RequestsPerMinute, time.Minute))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/twins", func(r chi.Router) {
				r.Get("/", s.handleListTwins)
				r.Post("/", s.handleCreateTwin)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTwin)
					r.Delete("/", s.handleDeleteTwin)
					r.Post("/replicas", s.handleLinkReplica)
					r.Delete("/replicas/{replicaID}", s.handleUnlinkReplica)
					r.Post("/check", s.handleCheckTwin)
					r.Post("/login", s.handleLoginTwin)
					r.Post("/logout", s.handleLogoutTwin)
					r.Get("/services", s.handleListServices)
				})
			})

			r.Route("/replicas", func(r chi.Router) {
				r.Get("/", s.handleListReplicas)
				r.Post("/pair", s.handlePairReplica)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetReplica)
					r.Delete("/", s.handleDeleteReplica)
					r.Put("/window", s.handleUpdateWindow)
					r.Get("/limits", s.handleGetLimits)
					r.Put("/limits", s.handleSetLimits)
					r.Post("/message", s.handleDisplayMessage)
					r.Post("/emergency/resolve", s.handleResolveEmergency)
				})
			})

			r.Post("/devices/leds", s.handleBroadcastLEDs)
			r.Get("/audit", s.handleListAudit)
			r.Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

func (s *Server) corsOptions() cors.Options {
	opts := cors.Options{
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: s.cfg.CORS.AllowedMethods,
		AllowedHeaders: s.cfg.CORS.AllowedHeaders,
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300, //nolint:mnd // preflight cache seconds
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = defaultCORSMethods
	}
	if len(opts.AllowedHeaders) == 0 {
		opts.AllowedHeaders = defaultCORSHeaders
	}
	return opts
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}
