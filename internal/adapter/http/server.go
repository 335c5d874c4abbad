package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
	"github.com/couchcryptid/lake-forcing-etl/internal/observability"
	"github.com/couchcryptid/lake-forcing-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Processor runs one request to completion.
type Processor interface {
	Process(ctx context.Context, t time.Time, lake string, maxAttempts int) (domain.Result, error)
}

// Sweeper deletes output directories older than a given age.
type Sweeper interface {
	Sweep(olderThan time.Duration) ([]string, error)
}

// Server exposes the processing API plus health, readiness, and metrics
// endpoints.
type Server struct {
	httpServer *http.Server
	processor  Processor
	sweeper    Sweeper
	history    *History
	layout     pipeline.Layout
	retention  time.Duration
	started    time.Time
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Deps are the collaborators of a Server.
type Deps struct {
	Processor Processor
	Sweeper   Sweeper
	History   *History
	Layout    pipeline.Layout
	Ready     sharedobs.ReadinessChecker
	// Retention is the /cleanup age when the request names none.
	Retention time.Duration
}

// NewServer creates an HTTP server with the processing routes and /healthz,
// /readyz, and /metrics.
func NewServer(addr string, deps Deps, logger *slog.Logger, metrics *observability.Metrics) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			// No write timeout: a /process call lasts as long as the request.
			IdleTimeout: 60 * time.Second,
		},
		processor: deps.Processor,
		sweeper:   deps.Sweeper,
		history:   deps.History,
		layout:    deps.Layout,
		retention: deps.Retention,
		started:   time.Now(),
		logger:    logger,
		metrics:   metrics,
	}
	if s.retention <= 0 {
		s.retention = 7 * 24 * time.Hour
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(deps.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("GET /download/{dirname...}", s.handleDownload)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /cleanup", s.handleCleanup)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// Cleanup deletes outputs older than olderThan and clears the processing
// history, returning the deleted directory names and the number of history
// entries dropped. The daily retention job calls it as well.
func (s *Server) Cleanup(olderThan time.Duration) ([]string, int, error) {
	deleted, err := s.sweeper.Sweep(olderThan)
	removed := s.history.Clear()
	s.logger.Info("cleanup finished", "deleted", len(deleted), "history_cleared", removed, "older_than", olderThan)
	return deleted, removed, err
}
