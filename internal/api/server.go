// Package api provides the status HTTP endpoints of the sync service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/p2p-trade-sync/internal/logging"
	"github.com/p2p-trade-sync/internal/worker"
)

// Pinger is a reachability check for a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds status server configuration.
type ServerConfig struct {
	Host string
	Port string
}

// Server exposes service health and scheduler status over HTTP.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	scheduler  *worker.Scheduler
	db         Pinger
	cache      Pinger // optional
	logger     *logging.Logger
}

// NewServer creates a status server instance.
func NewServer(cfg *ServerConfig, scheduler *worker.Scheduler, db, cache Pinger, logger *logging.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		scheduler: scheduler,
		db:        db,
		cache:     cache,
		logger:    logger.WithField("component", "api"),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/workers", s.handleWorkers).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router returns the underlying router; used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("status server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("status server failed")
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	code := http.StatusOK

	if err := s.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Checks["postgres"] = err.Error()
		code = http.StatusServiceUnavailable
	} else {
		resp.Checks["postgres"] = "ok"
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			// Cache loss degrades dedup to store lookups only.
			resp.Checks["redis"] = err.Error()
		} else {
			resp.Checks["redis"] = "ok"
		}
	}

	writeJSON(w, code, resp)
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": s.scheduler.Status(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
