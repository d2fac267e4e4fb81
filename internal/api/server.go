package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/storage"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerDeps carries the wired components the HTTP layer exposes.
type ServerDeps struct {
	Runner *pipeline.Runner
	Audio  storage.AudioStore
	DB     Checker   // nil with the in-memory store
	MQTT   Connected // nil when no broker is configured
	// RunCtx bounds background pipeline runs started by handlers.
	RunCtx    context.Context
	Version   string
	StartTime time.Time
}

func NewServer(cfg *config.Config, deps ServerDeps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	if cfg.RateLimitRPS > 0 {
		r.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated probes
	health := NewHealthHandler(deps.DB, deps.MQTT, deps.Audio.Type(), deps.Version, deps.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Job lifecycle
	jobs := NewJobsHandler(deps.Runner, deps.Audio, deps.RunCtx, log)
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		r.Route("/api/v1/jobs", func(r chi.Router) {
			r.Post("/", jobs.Create)
			r.Get("/{id}", jobs.Get)
			r.Put("/{id}/chunks/{chunkID}", jobs.UploadChunk)
			r.Post("/{id}/process", jobs.Process)
			r.Post("/{id}/retry", jobs.Retry)
			r.Get("/{id}/result", jobs.Result)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
