// Package api provides the HTTP control surface: health, pipeline
// status, Prometheus scrape, and the flatten / daily-reset admin
// actions.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ospreyquant/decision-engine/internal/config"
	"github.com/ospreyquant/decision-engine/internal/metrics"
	"github.com/ospreyquant/decision-engine/internal/pipeline"
)

// Server is the HTTP API server.
type Server struct {
	logger     *zap.Logger
	config     config.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	pipe       *pipeline.Pipeline
	metrics    *metrics.Metrics
	equity     float64
}

// NewServer creates an API server over the running pipeline. dayEquity is
// the baseline used when reset-day is called without an explicit value.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, pipe *pipeline.Pipeline, m *metrics.Metrics, dayEquity float64) *Server {
	s := &Server{
		logger:  logger.Named("api"),
		config:  cfg,
		router:  mux.NewRouter(),
		pipe:    pipe,
		metrics: m,
		equity:  dayEquity,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/flatten", s.handleFlatten).Methods("POST")
	s.router.HandleFunc("/api/v1/reset-day", s.handleResetDay).Methods("POST")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipe.CurrentStatus())
}

func (s *Server) handleFlatten(w http.ResponseWriter, r *http.Request) {
	closed, err := s.pipe.FlattenAll(r.Context())
	if err != nil {
		s.logger.Error("manual flatten incomplete", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"closed": closed,
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"closed": closed})
}

func (s *Server) handleResetDay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DayStartEquity float64 `json:"day_start_equity"`
	}
	if r.Body != nil {
		// An empty or absent body falls back to the configured baseline.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	equity := body.DayStartEquity
	if equity <= 0 {
		equity = s.equity
	}

	s.pipe.ResetDay(equity)
	s.logger.Info("daily reset via API", zap.Float64("day_start_equity", equity))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "reset",
		"day_start_equity": equity,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encoding failed", zap.Error(err))
	}
}
