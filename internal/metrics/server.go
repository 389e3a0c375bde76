// Package metrics provides Prometheus metrics for optimization runs and the HTTP
// server that exposes them
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ProgressFunc reports the current run progress for the /progress endpoint
type ProgressFunc func(ctx context.Context) (interface{}, error)

// Server provides HTTP server for Prometheus metrics
type Server struct {
	port     int
	server   *http.Server
	log      zerolog.Logger
	progress ProgressFunc
}

// NewServer creates a new metrics server
func NewServer(port int, log zerolog.Logger) *Server {
	return &Server{
		port: port,
		log:  log.With().Str("component", "metrics_server").Logger(),
	}
}

// WithProgress enables the /progress endpoint
func (s *Server) WithProgress(fn ProgressFunc) *Server {
	s.progress = fn
	return s
}

// Handler builds the server routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		if s.progress == nil {
			http.Error(w, "progress not available", http.StatusNotFound)
			return
		}
		p, err := s.progress(r.Context())
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to read progress")
			http.Error(w, "failed to read progress", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p); err != nil {
			s.log.Warn().Err(err).Msg("Failed to encode progress")
		}
	})

	return mux
}

// Start starts the metrics HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Int("port", s.port).Msg("Starting metrics server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.log.Info().Msg("Shutting down metrics server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	s.log.Info().Msg("Metrics server shutdown complete")
	return nil
}
