// Package server exposes the recognizer over HTTP: a websocket /transcribe
// endpoint for streaming recognition, transcript retrieval from the archive,
// and the usual /healthz, /readyz and /metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxhollow/sibilant/internal/observe"
	"github.com/voxhollow/sibilant/internal/session"
	"github.com/voxhollow/sibilant/internal/store"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 15 * time.Second

	// readyCheckTimeout bounds a single readiness check.
	readyCheckTimeout = 5 * time.Second
)

// Server serves streaming recognition sessions over websocket and archived
// transcripts over plain HTTP.
type Server struct {
	rec     *session.Recognizer
	archive store.Store
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to the process-wide instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithArchive sets the transcript archive. When nil, finished transcripts are
// returned to the client but not persisted, and /transcripts is not served.
func WithArchive(st store.Store) Option {
	return func(s *Server) { s.archive = st }
}

// New creates a Server around a shared recognizer.
func New(rec *session.Recognizer, opts ...Option) *Server {
	s := &Server{
		rec: rec,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the full HTTP handler, with request instrumentation applied
// to every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /transcribe", s.handleTranscribe)
	if s.archive != nil {
		mux.HandleFunc("GET /transcripts", s.handleListTranscripts)
		mux.HandleFunc("GET /transcripts/{id}", s.handleGetTranscript)
	}
	return observe.Middleware(s.metrics)(mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// handleHealthz is the liveness probe. A process that can serve HTTP is alive.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleReadyz reports readiness: the recognizer must be loaded and, when an
// archive is configured, it must answer a probe read.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.rec == nil {
		checks["recognizer"] = "fail: not loaded"
		allOK = false
	} else {
		checks["recognizer"] = "ok"
	}

	if s.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		_, err := s.archive.List(ctx, 1)
		cancel()
		if err != nil {
			checks["archive"] = "fail: " + err.Error()
			allOK = false
		} else {
			checks["archive"] = "ok"
		}
	}

	resp := healthResponse{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		resp.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// healthResponse is the JSON body of the health endpoints.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := s.archive.List(r.Context(), limit)
	if err != nil {
		s.log.Error("list transcripts", "err", err)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.archive.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no transcript with id "+id)
			return
		}
		s.log.Error("get transcript", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// writeJSON encodes v as JSON with the given status code. On encoding failure
// it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
