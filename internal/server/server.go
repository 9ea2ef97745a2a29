// Package server exposes section rendering over HTTP.
//
// Routes:
//
//	GET /section/{name}            render a section
//	GET /section/{name}/{params…}  render a parameterized section
//	GET /health                    liveness probe
//
// The caller's identity arrives in the X-EPI header. Card-level failures are
// isolated inside the orchestrator; only a missing section or a missing
// identity produce error responses.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-cardgen/pkg/orchestrator"
	"go.uber.org/zap"
)

// IdentityHeader names the request header carrying the caller identity.
const IdentityHeader = "X-EPI"

// Option customises server construction.
type Option func(*Server)

// WithLogger injects a logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server handles section rendering requests.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// New builds a server over an orchestrator.
func New(orch *orchestrator.Orchestrator, options ...Option) *Server {
	s := &Server{orch: orch, logger: zap.NewNop()}
	for _, opt := range options {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /section/{path...}", s.handleSection)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleSection(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(IdentityHeader)
	if identity == "" {
		writeError(w, http.StatusBadRequest, "missing "+IdentityHeader+" header")
		return
	}

	parts := strings.Split(strings.Trim(r.PathValue("path"), "/"), "/")
	if parts[0] == "" {
		writeError(w, http.StatusBadRequest, "missing section name")
		return
	}

	resp, err := s.orch.RenderSection(r.Context(), orchestrator.Request{
		Section:  parts[0],
		Identity: identity,
		Params:   parts[1:],
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrSectionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("section render failed",
			zap.String("section", parts[0]),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "error rendering section")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
