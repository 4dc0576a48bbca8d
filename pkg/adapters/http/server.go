// Package http exposes the run control surface over HTTP with chi.
// Requests are validated against the embedded OpenAPI document; run
// progress is streamed to clients as server-sent events carrying diffs.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/ports"
)

// Engine is the control surface the server drives.
type Engine interface {
	ports.Controller
	Delete(ctx context.Context, runID string) error
}

// Server holds the HTTP handlers.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	version     string
	poll        time.Duration
	gatherer    prometheus.Gatherer
	metricsPath string
	logger      *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithStreams shares a stream manager whose Hooks were given to the engine.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithMetrics serves the gatherer on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithMetricsPath moves the metrics endpoint.
func WithMetricsPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithVersion sets the application version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = strings.TrimSpace(v)
	}
}

// WithPollInterval sets how often SSE streams reload the run without a notification.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		s.poll = d
	}
}

// WithLogger sets the logger. The default writes JSON to stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) (http.Handler, error) {
	s := &Server{
		Engine:      engine,
		version:     "unknown",
		poll:        time.Second,
		metricsPath: "/metrics",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}

	doc, err := GetSwagger()
	if err != nil {
		return nil, err
	}
	validator, err := requestValidator(doc)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)
	r.Use(validator)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec)
	})
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/graph", s.GetGraph)
	if s.gatherer != nil {
		r.Handle(s.metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.ListRuns)
		r.Post("/", s.StartRun)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetRun)
			r.Delete("/", s.DeleteRun)
			r.Get("/review", s.GetReview)
			r.Post("/resume", s.ResumeRun)
			r.Post("/cancel", s.CancelRun)
			r.Get("/events", s.SubscribeEvents)
		})
	})

	return r, nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartRequest is the body of POST /runs.
type StartRequest struct {
	Input map[string]any `json:"input"`
}

// RunRef identifies a run in responses.
type RunRef struct {
	RunID  string           `json:"run_id"`
	Status domain.RunStatus `json:"status,omitempty"`
}

// StartRun handles POST /runs.
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindValidation, fmt.Errorf("invalid request body: %w", err))
		return
	}
	runID, err := s.Engine.Start(r.Context(), body.Input)
	if err != nil {
		s.fail(w, "Start failed", err)
		return
	}
	s.logger.Info("Run started", "run_id", runID)
	writeJSON(w, http.StatusAccepted, RunRef{RunID: runID, Status: domain.StatusRunning})
}

// ListRuns handles GET /runs.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.List(r.Context())
	if err != nil {
		s.fail(w, "List failed", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"runs": ids})
}

// GetRun handles GET /runs/{id}.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Engine.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "GetStatus failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRun handles DELETE /runs/{id}. Executing runs are refused.
func (s *Server) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	rec, err := s.Engine.GetStatus(r.Context(), runID)
	if err != nil {
		s.fail(w, "Delete failed", err)
		return
	}
	if !rec.Status.IsResting() {
		writeError(w, http.StatusConflict, domain.KindValidation, fmt.Errorf("run %q is %s", runID, rec.Status))
		return
	}
	if err := s.Engine.Delete(r.Context(), runID); err != nil {
		s.fail(w, "Delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetReview handles GET /runs/{id}/review.
func (s *Server) GetReview(w http.ResponseWriter, r *http.Request) {
	rs, err := s.Engine.Review(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "Review failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// ResumeRun handles POST /runs/{id}/resume.
func (s *Server) ResumeRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	var approval domain.Approval
	if err := json.NewDecoder(r.Body).Decode(&approval); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindValidation, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.Engine.Resume(r.Context(), runID, approval); err != nil {
		s.fail(w, "Resume failed", err)
		return
	}
	s.logger.Info("Run reviewed", "run_id", runID, "approved", approval.Approved)
	s.Streams.Broadcast(runID, "resume")
	s.accepted(w, r, runID)
}

// CancelRun handles POST /runs/{id}/cancel.
func (s *Server) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if err := s.Engine.Cancel(r.Context(), runID); err != nil {
		s.fail(w, "Cancel failed", err)
		return
	}
	s.Streams.Broadcast(runID, "cancel")
	s.accepted(w, r, runID)
}

func (s *Server) accepted(w http.ResponseWriter, r *http.Request, runID string) {
	ref := RunRef{RunID: runID}
	if rec, err := s.Engine.GetStatus(r.Context(), runID); err == nil {
		ref.Status = rec.Status
	}
	writeJSON(w, http.StatusAccepted, ref)
}

// GetGraph handles the GET /graph request.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Inspect())
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if swagger, err := GetSwagger(); err == nil && swagger.Info != nil {
		apiVersion = swagger.Info.Version
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "conduit-http",
		"version":     s.version,
		"api_version": apiVersion,
	})
}

// SubscribeEvents handles GET /runs/{id}/events (SSE).
// Each event carries a domain.RunDiff against the previous one; the stream
// ends with an "end" event once the run is terminal.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	rec, err := s.Engine.GetStatus(ctx, runID)
	if err != nil {
		s.fail(w, "Subscribe failed", err)
		return
	}

	notify, cancel := s.Streams.Subscribe(runID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	watch := parseWatch(r.URL.Query().Get("watch"))
	send := func(diff *domain.RunDiff) {
		diff = watch.filter(diff)
		if diff == nil {
			return
		}
		b, err := json.Marshal(diff)
		if err != nil {
			s.logger.Error("SSE: encode diff failed", "run_id", runID, "err", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	send(domain.Diff(nil, rec))
	if rec.Status.IsTerminal() {
		fmt.Fprintf(w, "event: end\ndata: %s\n\n", rec.Status)
		flusher.Flush()
		return
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE Client Disconnected", "run_id", runID)
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
		case <-ticker.C:
		}

		next, err := s.Engine.GetStatus(ctx, runID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				fmt.Fprintf(w, "event: error\ndata: %s\n\n", err)
				flusher.Flush()
			}
			return
		}
		send(domain.Diff(rec, next))
		rec = next
		if rec.Status.IsTerminal() {
			fmt.Fprintf(w, "event: end\ndata: %s\n\n", rec.Status)
			flusher.Flush()
			return
		}
	}
}

// watchFilter restricts which parts of a diff reach the client.
type watchFilter map[string]bool

func parseWatch(raw string) watchFilter {
	if raw == "" {
		return nil
	}
	w := make(watchFilter)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			w[part] = true
		}
	}
	return w
}

func (w watchFilter) filter(d *domain.RunDiff) *domain.RunDiff {
	if d == nil || len(w) == 0 {
		return d
	}
	out := &domain.RunDiff{RunID: d.RunID}
	if w["status"] {
		out.Status = d.Status
		out.CurrentNode = d.CurrentNode
	}
	if w["history"] {
		out.HistoryAppended = d.HistoryAppended
	}
	if w["log"] {
		out.LogAppended = d.LogAppended
	}
	if w["fields"] {
		out.Fields = d.Fields
	}
	if out.IsEmpty() {
		return nil
	}
	return out
}

// -- Helpers --

type errorBody struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind domain.ErrorKind, err error) {
	writeJSON(w, code, errorBody{Error: err.Error(), Kind: kind})
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(msg, "err", err)
	} else {
		s.logger.Warn(msg, "err", err)
	}
	writeError(w, code, domain.KindOf(err), err)
}

func statusCode(err error) int {
	var (
		notFound *domain.CheckpointNotFoundError
		resumed  *domain.AlreadyResumedError
	)
	switch {
	case errors.Is(err, domain.ErrRunNotFound), errors.Is(err, domain.ErrReviewNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidApproval):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRunNotAwaiting), errors.Is(err, domain.ErrRunTerminal),
		errors.Is(err, domain.ErrReviewClosed), errors.As(err, &resumed), errors.As(err, &notFound):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
