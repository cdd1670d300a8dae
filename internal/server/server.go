// Package server exposes the gateway's HTTP surface: streaming
// completions, run monitoring, SSE subscriptions, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strandworks/strand/internal/config"
	"github.com/strandworks/strand/internal/observability"
	"github.com/strandworks/strand/internal/orchestrator"
	"github.com/strandworks/strand/internal/providers"
	"github.com/strandworks/strand/internal/storage"
	"github.com/strandworks/strand/pkg/models"
)

// Server handles the gateway's HTTP endpoints.
type Server struct {
	cfg     config.ServerConfig
	store   storage.API
	orch    *orchestrator.Orchestrator
	log     *observability.Logger
	metrics *observability.Metrics

	httpServer *http.Server

	// monitored tracks runs with a live server-side monitor so repeat
	// registrations join instead of double-processing.
	mu        sync.Mutex
	monitored map[string]struct{}
}

// New creates the server over its collaborators.
func New(cfg config.ServerConfig, store storage.API, orch *orchestrator.Orchestrator,
	log *observability.Logger, m *observability.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		orch:      orch,
		log:       log,
		metrics:   m,
		monitored: make(map[string]struct{}),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /completions", s.handleCompletions)
	mux.HandleFunc("POST /monitor", s.handleMonitor)
	mux.HandleFunc("GET /subscribe/{runID}", s.handleSubscribe)
	return mux
}

// ListenAndServe blocks until ctx is done, then drains connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if s.log != nil {
		s.log.Info(ctx, "http server listening", "addr", s.cfg.Addr)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// completionRequest initiates one streamed run. MessageID identifies the
// triggering user message; the message itself is already appended to the
// thread through the storage API.
type completionRequest struct {
	RunID           string `json:"run_id"`
	ThreadID        string `json:"thread_id"`
	MessageID       string `json:"message_id,omitempty"`
	AssistantID     string `json:"assistant_id"`
	Provider        string `json:"provider,omitempty"`
	Model           string `json:"model,omitempty"`
	APIKey          string `json:"api_key,omitempty"`
	StreamReasoning bool   `json:"stream_reasoning,omitempty"`
	Truncate        bool   `json:"truncate,omitempty"`
}

// handleCompletions starts the run and streams its chunks back over SSE
// until the run reaches a terminal state.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	req, run, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	// An unroutable model is a client error, reported before any SSE
	// bytes are written. Models resolved later (from the assistant) still
	// surface routing failures as in-stream error frames.
	if model := req.Model; model != "" || run.Model != "" {
		if model == "" {
			model = run.Model
		}
		if _, err := s.orch.Arbiter().Resolve(model); err != nil {
			var routeErr *providers.RouteError
			if errors.As(err, &routeErr) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": routeErr.Error()})
				return
			}
		}
	}

	sub := s.orch.Mirror().Hub().Subscribe(run.ID)
	if s.metrics != nil {
		s.metrics.SSESubscribers.WithLabelValues("completions").Inc()
		defer s.metrics.SSESubscribers.WithLabelValues("completions").Dec()
	}

	// The run outlives this request if the client disconnects; chunks
	// keep flowing to the mirror for late subscribers.
	go func() {
		defer s.orch.Mirror().Hub().Close(run.ID)
		_ = s.orch.ProcessConversation(context.WithoutCancel(r.Context()), &orchestrator.Request{
			RunID:           run.ID,
			ThreadID:        run.ThreadID,
			AssistantID:     run.AssistantID,
			Model:           req.Model,
			APIKey:          req.APIKey,
			StreamReasoning: req.StreamReasoning,
			Truncate:        req.Truncate,
		})
	}()

	s.streamSSE(w, r, sub.C(), nil)
	s.orch.Mirror().Hub().Unsubscribe(run.ID, sub)
}

// handleMonitor registers a run for server-side processing without
// holding the caller's connection open. Admin only; idempotent.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminAPIKey == "" || r.Header.Get("X-Admin-Key") != s.cfg.AdminAPIKey {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	req, run, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	if _, exists := s.monitored[run.ID]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"status": "monitoring_registered", "run_id": run.ID})
		return
	}
	s.monitored[run.ID] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.monitored, run.ID)
			s.mu.Unlock()
			s.orch.Mirror().Hub().Close(run.ID)
		}()
		_ = s.orch.ProcessConversation(context.Background(), &orchestrator.Request{
			RunID:           run.ID,
			ThreadID:        run.ThreadID,
			AssistantID:     run.AssistantID,
			Model:           req.Model,
			StreamReasoning: req.StreamReasoning,
			Truncate:        req.Truncate,
		})
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "monitoring_registered", "run_id": run.ID})
}

// handleSubscribe replays a run's mirrored chunks and then follows the
// live stream.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if runID == "" {
		http.Error(w, `{"error":"run_id required"}`, http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"storage unavailable"}`, http.StatusBadGateway)
		return
	}

	replay, err := s.orch.Mirror().Replay(r.Context(), runID)
	if err != nil && s.log != nil {
		s.log.Warn(r.Context(), "mirror replay failed", "run_id", runID, "error", err)
	}

	sub := s.orch.Mirror().Hub().Subscribe(runID)
	defer s.orch.Mirror().Hub().Unsubscribe(runID, sub)
	if s.metrics != nil {
		s.metrics.SSESubscribers.WithLabelValues("subscribe").Inc()
		defer s.metrics.SSESubscribers.WithLabelValues("subscribe").Dec()
	}

	s.streamSSE(w, r, sub.C(), replay)
}

// decodeRunRequest parses the body, resolves the run, and fills thread
// and assistant ids from the run record when the caller omitted them.
func (s *Server) decodeRunRequest(w http.ResponseWriter, r *http.Request) (*completionRequest, *models.Run, bool) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return nil, nil, false
	}
	if req.RunID == "" {
		http.Error(w, `{"error":"run_id required"}`, http.StatusBadRequest)
		return nil, nil, false
	}

	run, err := s.store.GetRun(r.Context(), req.RunID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
			return nil, nil, false
		}
		http.Error(w, `{"error":"storage unavailable"}`, http.StatusBadGateway)
		return nil, nil, false
	}
	if req.ThreadID != "" {
		run.ThreadID = req.ThreadID
	}
	if req.AssistantID != "" {
		run.AssistantID = req.AssistantID
	}
	return &req, run, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
