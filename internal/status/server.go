// Package status serves a small read-only HTTP view of the rebalancer.
package status

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/models"
)

// RunStatus is the externally visible summary of one run.
type RunStatus struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Result     string            `json:"result"`
	Decision   string            `json:"decision,omitempty"`
	Trade      *models.TradeInfo `json:"trade,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Tracker holds the latest run and the next scheduled run. Safe for
// concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	last    *RunStatus
	nextRun time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Record stores the latest run.
func (t *Tracker) Record(s RunStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &s
}

// Last returns the latest run, if any.
func (t *Tracker) Last() (RunStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return RunStatus{}, false
	}
	return *t.last, true
}

// SetNextRun records when the scheduler will next wake.
func (t *Tracker) SetNextRun(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextRun = at
}

// NextRun returns the recorded next wake-up.
func (t *Tracker) NextRun() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextRun
}

// Info is static process information shown by /api/status.
type Info struct {
	Environment      string  `json:"environment"`
	Symbol           string  `json:"symbol"`
	TargetAllocation float64 `json:"target_allocation"`
	DryRun           bool    `json:"dry_run"`
}

// Config contains the server settings.
type Config struct {
	Port      int
	AuthToken string
}

// Server exposes /health, /api/status and /api/last-run.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	tracker   *Tracker
	info      Info
	logger    logrus.FieldLogger
	port      int
	authToken string
	started   time.Time
}

// NewServer creates the status server.
func NewServer(cfg Config, tracker *Tracker, info Info, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		tracker:   tracker,
		info:      info,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		started:   time.Now(),
	}

	s.setupRoutes()
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/last-run", s.handleLastRun)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("Starting status server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Info
		StartedAt time.Time  `json:"started_at"`
		NextRun   *time.Time `json:"next_run,omitempty"`
		LastRun   *RunStatus `json:"last_run,omitempty"`
	}{Info: s.info, StartedAt: s.started}

	if next := s.tracker.NextRun(); !next.IsZero() {
		body.NextRun = &next
	}
	if last, ok := s.tracker.Last(); ok {
		body.LastRun = &last
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	last, ok := s.tracker.Last()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, last)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
