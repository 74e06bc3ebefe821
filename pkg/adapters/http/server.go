// Package http exposes planning, conversion and introspection over a
// small REST surface.
package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/executor"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/property"
)

// Engine defines the interface the HTTP adapter needs from the core.
type Engine interface {
	Plan(ctx context.Context, source property.Properties, target property.Pattern, from, to planner.Cardinality) (*planner.Plan, error)
	Convert(ctx context.Context, input []byte, props property.Properties, target property.Pattern) (*executor.Result, error)
	Converters() []*converter.Decl
}

// PlanRequest is the body of POST /plan.
type PlanRequest struct {
	Source      map[string]any    `json:"source"`
	Target      property.Pattern  `json:"target"`
	Cardinality map[string]string `json:"cardinality,omitempty"` // {"from": "one", "to": "many"}
}

// PlanResponse wraps the computed plan.
type PlanResponse struct {
	Plan *planner.Plan `json:"plan"`
}

// ConvertRequest is the body of POST /convert. Input bytes travel
// base64-encoded.
type ConvertRequest struct {
	Input  string           `json:"input"`
	Source map[string]any   `json:"source"`
	Target property.Pattern `json:"target"`
}

// ConvertResponse carries the output bytes and final properties.
type ConvertResponse struct {
	Output string         `json:"output"`
	Props  map[string]any `json:"props"`
	Stats  executor.Stats `json:"stats"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Server handles the REST routes over an Engine.
type Server struct {
	engine  Engine
	logger  *slog.Logger
	metrics *Metrics
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, logger *slog.Logger) http.Handler {
	server := &Server{
		engine:  engine,
		logger:  logger,
		metrics: NewMetrics(),
	}

	r := chi.NewRouter()
	r.Get("/healthz", server.handleHealth)
	r.Get("/converters", server.handleConverters)
	r.Post("/plan", server.handlePlan)
	r.Post("/convert", server.handleConvert)
	r.Method(http.MethodGet, "/metrics", server.metrics.Handler())

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConverters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Converters())
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	source, err := property.FromMap(req.Source)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	from, to := parseCardinality(req.Cardinality)

	start := time.Now()
	plan, err := s.engine.Plan(r.Context(), source, req.Target, from, to)
	if err != nil {
		s.metrics.PlanFailed()
		var noPath *planner.NoPathError
		if errors.As(err, &noPath) {
			s.writeError(w, http.StatusUnprocessableEntity, "no_path", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	s.metrics.PlanSucceeded(time.Since(start))

	writeJSON(w, http.StatusOK, PlanResponse{Plan: plan})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	input, err := base64.StdEncoding.DecodeString(req.Input)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	props, err := property.FromMap(req.Source)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	start := time.Now()
	res, err := s.engine.Convert(r.Context(), input, props, req.Target)
	if err != nil {
		s.metrics.ConvertFailed()
		s.writeError(w, statusFor(err), kindFor(err), err)
		return
	}
	s.metrics.ConvertSucceeded(time.Since(start), res.Stats.PeakMemory)

	writeJSON(w, http.StatusOK, ConvertResponse{
		Output: base64.StdEncoding.EncodeToString(res.Data),
		Props:  res.Props.ToGo(),
		Stats:  res.Stats,
	})
}

func statusFor(err error) int {
	var noPath *planner.NoPathError
	var convErr *converter.Error
	var limitErr *executor.MemoryLimitError
	switch {
	case errors.As(err, &noPath):
		return http.StatusUnprocessableEntity
	case errors.As(err, &convErr):
		return http.StatusBadRequest
	case errors.As(err, &limitErr):
		return http.StatusInsufficientStorage
	case errors.Is(err, executor.ErrCancelled):
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

func kindFor(err error) string {
	var noPath *planner.NoPathError
	var convErr *converter.Error
	var limitErr *executor.MemoryLimitError
	switch {
	case errors.As(err, &noPath):
		return "no_path"
	case errors.As(err, &convErr):
		switch convErr.Kind {
		case converter.KindInvalidInput:
			return "invalid_input"
		case converter.KindUnsupportedOption:
			return "unsupported_option"
		}
		return "internal"
	case errors.As(err, &limitErr):
		return "memory_limit_exceeded"
	case errors.Is(err, executor.ErrCancelled):
		return "cancelled"
	default:
		return "internal"
	}
}

func parseCardinality(m map[string]string) (planner.Cardinality, planner.Cardinality) {
	parse := func(s string) planner.Cardinality {
		if s == "many" {
			return planner.Many
		}
		return planner.One
	}
	return parse(m["from"]), parse(m["to"])
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind string, err error) {
	s.logger.Error("request failed", "kind", kind, "err", err)
	writeJSON(w, status, errorResponse{Kind: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}
