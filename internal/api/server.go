// Package api exposes the lifecycle engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/fsm"
	"github.com/bft-labs/plotline/internal/guard"
	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/internal/recovery"
	"github.com/bft-labs/plotline/pkg/log"
)

// Engine is the subset of app.Engine the API serves.
type Engine interface {
	CreateJob(jobID string) (*fsm.Machine, error)
	Transition(ctx context.Context, jobID string, to domain.JobState, reason string, md domain.Metadata) (fsm.Outcome, error)
	Status(jobID string) (recovery.Status, error)
	Resumable() ([]string, error)
	History(jobID string) ([]domain.Transition, error)
}

// StatsReader serves per-job event counts.
type StatsReader interface {
	JobEventCounts(ctx context.Context, jobID string) (map[string]int64, error)
}

// Server wires HTTP handlers for the engine.
type Server struct {
	engine  Engine
	metrics http.Handler
	ws      http.Handler
	stats   StatsReader
	logger  log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithWebSocket serves h at /ws.
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) { s.ws = h }
}

// WithStats enables GET /jobs/{id}/stats.
func WithStats(r StatsReader) Option {
	return func(s *Server) { s.stats = r }
}

// WithLogger sets the server logger.
func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.logger = log.OrNoop(l) }
}

// New constructs the API server.
func New(engine Engine, opts ...Option) *Server {
	s := &Server{engine: engine, logger: log.NewNoopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Mount("/metrics", s.metrics)
	}
	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/resumable", s.handleResumable)
		r.Get("/{id}", s.handleStatus)
		r.Post("/{id}", s.handleCreate)
		r.Get("/{id}/history", s.handleHistory)
		r.Get("/{id}/stats", s.handleStats)
		r.Post("/{id}/transitions", s.handleTransition)
	})
	return r
}

type transitionRequest struct {
	To       string          `json:"to"`
	Reason   string          `json:"reason"`
	Metadata domain.Metadata `json:"metadata"`
}

type transitionResponse struct {
	Transition domain.Transition `json:"transition"`
	Warnings   []guard.Result    `json:"warnings,omitempty"`
}

type errorResponse struct {
	Error  string         `json:"error"`
	Guards []guard.Result `json:"guards,omitempty"`
}

func (s *Server) handleResumable(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.engine.Resumable()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": ids})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engine.CreateJob(id); err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.engine.Status(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.engine.History(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hist == nil {
		hist = []domain.Transition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": hist})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.Error(w, "statistics not configured", http.StatusNotFound)
		return
	}
	counts, err := s.stats.JobEventCounts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Warn("statistics read failed", log.Err(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "statistics unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": counts})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	to, err := domain.ParseState(req.To)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	out, err := s.engine.Transition(r.Context(), id, to, req.Reason, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Transition: out.Transition, Warnings: out.Warnings()})
}

// writeError maps engine errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var blocked *fsm.GuardBlockedError
	switch {
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusPreconditionFailed, errorResponse{Error: err.Error(), Guards: blocked.Results})
	case errors.Is(err, journal.ErrInvalidJobID):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrJobExists),
		errors.Is(err, domain.ErrAlreadyRegistered):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrJournalCorrupt):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotRunning), errors.Is(err, domain.ErrShutdown):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", log.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
