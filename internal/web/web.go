// Package web serves the daemon's status API: health, run history, manual
// triggers and Prometheus metrics.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"schoolsync/internal/config"
	"schoolsync/internal/history"
	appLog "schoolsync/internal/log"
	"schoolsync/internal/schedule"
	"schoolsync/internal/syncer"
)

// maxRunsLimit caps /api/runs?limit=.
const maxRunsLimit = 200

// RunLog is the read side of the run history.
type RunLog interface {
	Recent(ctx context.Context, limit int) ([]syncer.Report, error)
	Latest(ctx context.Context) (syncer.Report, error)
}

// Trigger starts runs on demand and knows the schedule.
type Trigger interface {
	TriggerNow(ctx context.Context) (syncer.Report, error)
	Next() time.Time
}

// Server provides the HTTP API.
type Server struct {
	cfg     *config.Config
	runs    RunLog
	trigger Trigger
	metrics http.Handler
	mux     *http.ServeMux
}

// NewServer constructs a Server. metrics may be nil.
func NewServer(cfg *config.Config, runs RunLog, trigger Trigger, metrics http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		runs:    runs,
		trigger: trigger,
		metrics: metrics,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schoolsync", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		appLog.Info("stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/runs/latest", s.handleLatest)
	s.mux.HandleFunc("POST /api/sync", s.handleSync)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Schedule string         `json:"schedule"`
	Timezone string         `json:"timezone"`
	DryRun   bool           `json:"dry_run"`
	NextRun  *time.Time     `json:"next_run,omitempty"`
	LastRun  *syncer.Report `json:"last_run,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Schedule: s.cfg.Schedule,
		Timezone: s.cfg.Timezone,
		DryRun:   s.cfg.Sync.DryRun,
	}
	if s.trigger != nil {
		if next := s.trigger.Next(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	if s.runs != nil {
		last, err := s.runs.Latest(r.Context())
		switch {
		case err == nil:
			resp.LastRun = &last
		case !errors.Is(err, history.ErrNoRuns):
			appLog.Error("api status: reading history failed", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRuns returns recent runs, newest first.
//
// GET /api/runs?limit=20
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), history.DefaultLimit)
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	limit = min(limit, maxRunsLimit)

	runs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		appLog.Error("api runs: reading history failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read run history")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	last, err := s.runs.Latest(r.Context())
	if errors.Is(err, history.ErrNoRuns) {
		writeError(w, http.StatusNotFound, "no runs recorded yet")
		return
	}
	if err != nil {
		appLog.Error("api runs: reading history failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read run history")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// handleSync runs a sync now and returns its report. The run outlives a
// dropped client connection.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	appLog.Info("manual sync requested", "remote", r.RemoteAddr)

	rep, err := s.trigger.TriggerNow(context.WithoutCancel(r.Context()))
	if errors.Is(err, schedule.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
