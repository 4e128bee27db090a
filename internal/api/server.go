// Package api provides the HTTP API server and handlers for bookcast.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unalkalkan/bookcast/internal/cache"
	"github.com/unalkalkan/bookcast/internal/conversion"
	"github.com/unalkalkan/bookcast/internal/document"
	"github.com/unalkalkan/bookcast/internal/events"
	"github.com/unalkalkan/bookcast/internal/health"
	"github.com/unalkalkan/bookcast/internal/history"
	"github.com/unalkalkan/bookcast/internal/logger"
	"github.com/unalkalkan/bookcast/internal/packaging"
	"github.com/unalkalkan/bookcast/internal/provider"
	"github.com/unalkalkan/bookcast/internal/ratelimit"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/internal/streaming"
	"github.com/unalkalkan/bookcast/pkg/types"
)

const defaultMaxUploadMB = 100

// Dependencies are the services the handlers call into.
type Dependencies struct {
	Config      *types.Config
	Version     string
	Storage     storage.Adapter
	Documents   document.Repository
	Importer    *document.Importer
	Conversions *conversion.Manager
	History     *history.Store
	Registry    *provider.Registry
	Cache       *cache.Cache // optional
	Events      *events.Manager
	Health      *health.Handler
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	deps          Dependencies
	streaming     *streaming.Service
	packaging     *packaging.Service
	uploadLimiter *ratelimit.KeyedLimiter
	router        *chi.Mux
	logger        *slog.Logger
	started       time.Time
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps Dependencies, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if deps.Config == nil {
		deps.Config = &types.Config{}
	}
	s := &Server{
		deps:      deps,
		streaming: streaming.NewService(deps.Storage),
		packaging: packaging.NewService(deps.Storage),
		uploadLimiter: ratelimit.New(
			deps.Config.RateLimit.UploadRPS,
			max(1, deps.Config.RateLimit.UploadBurst),
		),
		router:  chi.NewRouter(),
		logger:  logger.Component(log, "api"),
		started: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the upload limiter.
func (s *Server) Close() {
	s.uploadLimiter.Stop()
}

func (s *Server) setupMiddleware() {
	origins := s.deps.Config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Content-Disposition"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	if s.deps.Health != nil {
		s.router.Get("/health", s.deps.Health.HealthHandler())
		s.router.Get("/health/live", s.deps.Health.LivenessHandler())
		s.router.Get("/health/ready", s.deps.Health.ReadinessHandler())
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, s.logger, errRouteNotFound(r))
	})
	s.router.MethodNotAllowed(respondMethodNotAllowed)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", s.handleInfo)
		r.Get("/stats", s.handleStats)
		r.Get("/providers", s.handleListProviders)
		r.Get("/voices", s.handleListVoices)

		if s.deps.Events != nil {
			r.Get("/events", events.NewHandler(s.deps.Events, s.logger).ServeHTTP)
		}

		r.Route("/documents", func(r chi.Router) {
			r.With(rateLimit(s.uploadLimiter, s.logger)).Post("/", s.handleUploadDocument)
			r.Get("/", s.handleListDocuments)
			r.Get("/{id}", s.handleGetDocument)
			r.Get("/{id}/chapters", s.handleListChapters)
			r.Delete("/{id}", s.handleDeleteDocument)
		})

		r.Route("/conversions", func(r chi.Router) {
			r.Post("/", s.handleCreateConversion)
			r.Get("/", s.handleListConversions)
			r.Get("/{id}", s.handleGetConversion)
			r.Delete("/{id}", s.handleCancelConversion)
			r.Get("/{id}/audio", s.handleConversionAudio)
			r.Get("/{id}/chunks", s.handleConversionChunks)
			r.Get("/{id}/chunks/{index}/audio", s.handleChunkAudio)
			r.Get("/{id}/package", s.handlePackageConversion)
		})
	})
}

func (s *Server) maxUploadBytes() int64 {
	mb := s.deps.Config.Server.MaxUploadMB
	if mb <= 0 {
		mb = defaultMaxUploadMB
	}
	return int64(mb) << 20
}
