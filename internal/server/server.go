package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voyagen/ptepg/internal/logging"
	"github.com/voyagen/ptepg/internal/service"
)

// Trigger starts or queues an ingestion run. It returns service.ErrRunInProgress
// when a run is already underway.
type Trigger interface {
	Trigger(ctx context.Context, windowDays int) error
}

// ReportSource returns the most recent run report, or (nil, nil) before the first run.
type ReportSource interface {
	LastReport(ctx context.Context) (*service.Report, error)
}

// Server is the operations HTTP surface.
type Server struct {
	port    string
	trigger Trigger
	reports ReportSource
	router  chi.Router
}

// New creates a Server and registers routes.
func New(port string, trigger Trigger, reports ReportSource) *Server {
	srv := &Server{port: port, trigger: trigger, reports: reports, router: chi.NewRouter()}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(withLogging)

	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", s.handleTriggerRun)
		r.Get("/last", s.handleLastRun)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.port
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("server shutdown")
		}
	}()

	logging.Info().Str("addr", addr).Msg("ops server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runRequest struct {
	WindowDays int `json:"window_days"`
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.WindowDays < 0 || req.WindowDays > service.MaxWindowDays {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("window_days must be between 0 and %d", service.MaxWindowDays))
		return
	}

	if err := s.trigger.Trigger(r.Context(), req.WindowDays); err != nil {
		if errors.Is(err, service.ErrRunInProgress) {
			writeErr(w, http.StatusConflict, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("trigger run: %w", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "window_days": req.WindowDays})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.reports.LastReport(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if report == nil {
		writeErr(w, http.StatusNotFound, errors.New("no run has finished yet"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// APIError is the JSON body of every error response.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withLogging logs each request with method, path, status, and duration.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logging.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("writeJSON")
	}
}

func writeErr(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		logging.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}
