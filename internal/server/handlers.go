package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/soyeahso/conductor/internal/tools"
	"github.com/soyeahso/conductor/internal/workflow"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime,omitempty"` // empty when not started through Serve
}

// RunRequest is the body of POST /workflows/run. Template holds a workflow
// document in JSON form.
type RunRequest struct {
	Template  json.RawMessage `json:"template"`
	Variables map[string]any  `json:"variables,omitempty"`
}

// RunResponse reports a finished workflow execution.
type RunResponse struct {
	Summary workflow.Summary `json:"summary"`
	Results map[string]any   `json:"results,omitempty"`
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.requireAuth(s.handleTools))
	mux.HandleFunc("POST /execute", s.requireAuth(s.handleExecute))
	if s.engine != nil {
		mux.HandleFunc("POST /workflows/run", s.requireAuth(s.handleRun))
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("/", handleNotFound)
}

// requireAuth rejects requests without the server token. Repeated failures
// from one address are throttled.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(w, r)
			return
		}
		if !s.limiter.allow(r.RemoteAddr) {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after failed auth attempts")
			writeError(w, http.StatusTooManyRequests, tools.CodeUnauthorized, "too many failed attempts")
			return
		}
		if ok, reason := authorize(s.token, r); !ok {
			s.limiter.recordFailure(r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, tools.CodeUnauthorized, reason)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version}
	s.mu.Lock()
	if !s.startedAt.IsZero() {
		resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	defs := []tools.ToolDef{}
	if d, ok := s.exec.(tools.Describer); ok {
		list, err := d.Definitions(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, tools.CodeExecution, err.Error())
			return
		}
		if list != nil {
			defs = list
		}
	}
	writeJSON(w, http.StatusOK, tools.ListResponse{Tools: defs})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req tools.ExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, tools.CodeInvalidParams, err.Error())
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, tools.CodeInvalidParams, "tool is required")
		return
	}

	start := time.Now()
	result, err := s.exec.Execute(r.Context(), req.Tool, req.Parameters)
	log := s.log.With("tool", req.Tool).With("request_id", RequestID(r.Context()))
	if err != nil {
		if errors.Is(err, tools.ErrToolNotFound) {
			writeError(w, http.StatusNotFound, tools.CodeToolNotFound, req.Tool)
			return
		}
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("tool execution failed")
		writeError(w, http.StatusInternalServerError, tools.CodeExecution, err.Error())
		return
	}
	log.Debug().Dur("duration", time.Since(start)).Msg("tool executed")
	writeJSON(w, http.StatusOK, tools.ExecuteResponse{Result: result})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, tools.CodeInvalidParams, err.Error())
		return
	}
	if len(req.Template) == 0 {
		writeError(w, http.StatusBadRequest, tools.CodeInvalidParams, "template is required")
		return
	}
	tmpl, err := workflow.ParseTemplate(req.Template)
	if err != nil {
		writeError(w, http.StatusBadRequest, tools.CodeInvalidParams, err.Error())
		return
	}

	wctx, err := s.engine.Execute(r.Context(), tmpl, req.Variables)
	if err != nil {
		if errors.Is(err, workflow.ErrAbort) {
			s.log.Warn().Err(err).Str("workflow", tmpl.Name).Msg("workflow aborted")
			writeError(w, http.StatusInternalServerError, tools.CodeExecution, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, tools.CodeInvalidParams, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{Summary: wctx.Summary(), Results: wctx.Results()})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, tools.ExecuteResponse{Error: &tools.ErrorBody{Code: code, Message: message}})
}
