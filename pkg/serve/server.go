// Package serve is the HTTP front end: it accepts scenario documents,
// executes them, and exposes live run snapshots, the capability catalog,
// and Prometheus metrics.
package serve

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aerovista/skyconform/pkg/capability"
	"github.com/aerovista/skyconform/pkg/engine"
	"github.com/aerovista/skyconform/pkg/resolve"
	"github.com/aerovista/skyconform/pkg/result"
	"github.com/aerovista/skyconform/pkg/schema"
)

// Server executes submitted scenarios and serves their state.
type Server struct {
	caps    *capability.Registry
	deps    *resolve.Registry
	log     *slog.Logger
	metrics *Metrics

	mu   sync.Mutex
	runs map[string]*runHandle
}

// runHandle tracks one run from submission to completion.
type runHandle struct {
	scenario string
	eng      *engine.Engine

	mu   sync.Mutex
	done *result.ScenarioResult // nil while executing
}

// NewServer builds a server over the given capability set and wiring.
func NewServer(caps *capability.Registry, deps *resolve.Registry, log *slog.Logger) *Server {
	return &Server{
		caps:    caps,
		deps:    deps,
		log:     log,
		metrics: NewMetrics(),
		runs:    make(map[string]*runHandle),
	}
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/api/runs", s.handleStartRun)
	r.Get("/api/runs/{id}", s.handleGetRun)
	r.Get("/api/capabilities", s.handleCapabilities)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	return r
}

// startRunRequest is the POST /api/runs body.
type startRunRequest struct {
	Scenario string `json:"scenario"` // scenario document, YAML
}

type startRunResponse struct {
	RunID    string        `json:"run_id"`
	Scenario string        `json:"scenario"`
	Status   result.Status `json:"status"`
}

// handleStartRun validates the submitted document, rejects it with the
// validation findings on error, and otherwise starts the run detached.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	doc, ok := readScenarioDocument(w, r)
	if !ok {
		return
	}
	sc, err := schema.Load(strings.NewReader(doc))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := schema.Validate(sc); schema.HasErrors(errs) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"validation": errs})
		return
	}

	eng := engine.New(sc, s.caps, s.deps, engine.Config{Log: s.log})
	h := &runHandle{scenario: sc.Name, eng: eng}
	s.mu.Lock()
	s.runs[eng.RunID()] = h
	s.mu.Unlock()

	s.metrics.runStarted()
	go func() {
		// The run outlives the submitting request.
		res := eng.Run(context.Background())
		s.metrics.runFinished(res)
		h.mu.Lock()
		h.done = res
		h.mu.Unlock()
		s.log.Info("run finished", "run_id", res.RunID, "status", res.Status)
	}()

	writeJSON(w, http.StatusAccepted, startRunResponse{
		RunID:    eng.RunID(),
		Scenario: sc.Name,
		Status:   result.StatusRunning,
	})
}

// readScenarioDocument accepts either a JSON envelope or a raw YAML body.
func readScenarioDocument(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return "", false
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req startRunRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
			return "", false
		}
		if strings.TrimSpace(req.Scenario) == "" {
			writeError(w, http.StatusBadRequest, "scenario document is empty")
			return "", false
		}
		return req.Scenario, true
	}
	if strings.TrimSpace(string(body)) == "" {
		writeError(w, http.StatusBadRequest, "scenario document is empty")
		return "", false
	}
	return string(body), true
}

// runSnapshot is the GET /api/runs/{id} response: the final result once the
// run completes, a live snapshot with in-flight steps before that.
type runSnapshot struct {
	RunID    string              `json:"run_id"`
	Scenario string              `json:"scenario"`
	Status   result.Status       `json:"status"`
	Steps    []result.StepResult `json:"steps"`
	Error    string              `json:"error,omitempty"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	h, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no such run")
		return
	}

	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done != nil {
		writeJSON(w, http.StatusOK, runSnapshot{
			RunID:    done.RunID,
			Scenario: done.Scenario,
			Status:   done.Status,
			Steps:    done.Steps,
			Error:    done.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, runSnapshot{
		RunID:    id,
		Scenario: h.scenario,
		Status:   result.StatusRunning,
		Steps:    h.eng.Store().Snapshot(),
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": s.caps.Describe()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
