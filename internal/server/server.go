// internal/server/server.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"research-pipeline/internal/pipeline"
)

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// HealthChecker reports readiness of a backing dependency.
type HealthChecker func(ctx context.Context) error

type Config struct {
	Address        string
	RequestTimeout time.Duration
}

// Server exposes the pipeline over HTTP.
type Server struct {
	config   *Config
	pipeline *pipeline.Pipeline
	checks   map[string]HealthChecker
	logger   Logger
	http     *http.Server
}

func New(config *Config, p *pipeline.Pipeline, log Logger) *Server {
	s := &Server{
		config:   config,
		pipeline: p,
		checks:   make(map[string]HealthChecker),
		logger: log.With(map[string]interface{}{
			"component": "server",
		}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/research", s.handleResearch).Methods("POST")
	router.HandleFunc("/api/v1/research/{id}", s.handleGetRun).Methods("GET")
	router.HandleFunc("/api/v1/research/{id}/refine", s.handleRefine).Methods("POST")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.http = &http.Server{
		Addr:         config.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: config.RequestTimeout + 10*time.Second,
	}

	return s
}

// AddHealthCheck registers a named dependency probe for /healthz.
func (s *Server) AddHealthCheck(name string, check HealthChecker) {
	s.checks[name] = check
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.logger.Info("server listening", map[string]interface{}{
		"address": s.config.Address,
	})
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
