// Package api exposes the document pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alexedwards/flow"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/AthleteDocs/internal/app"
)

// UserHeader carries the acting admin. Authentication happens upstream.
const UserHeader = "X-User-ID"

const downloadPath = "/files/download"

// Server exposes HTTP endpoints for uploads, review and queue administration.
type Server struct {
	app    *app.App
	logger logrus.FieldLogger
	server *http.Server
}

// New constructs a Server.
func New(a *app.App) *Server {
	s := &Server{app: a, logger: a.Logger}
	mux := flow.New()
	s.buildRouter(mux)
	s.server = &http.Server{
		Addr:              a.Config.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) buildRouter(r *flow.Mux) {
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth, http.MethodGet)

	r.HandleFunc("/documents/upload", s.handleUpload, http.MethodPost)
	r.HandleFunc("/documents/analytics", s.handleAnalytics, http.MethodGet)
	r.HandleFunc("/documents/bulk-process", s.handleBulkProcess, http.MethodPost)
	r.HandleFunc("/documents/reprocess-failed", s.handleReprocessFailed, http.MethodPost)
	r.HandleFunc("/documents/:id/status", s.handleStatus, http.MethodGet)
	r.HandleFunc("/documents/:id/approve", s.handleApprove, http.MethodPost)
	r.HandleFunc("/documents/:id/reanalyze", s.handleReanalyze, http.MethodPost)
	r.HandleFunc("/documents/:id/file-url", s.handleFileURL, http.MethodGet)
	r.HandleFunc("/documents/:id", s.handleDelete, http.MethodDelete)
	r.HandleFunc(downloadPath, s.handleDownload, http.MethodGet)

	r.HandleFunc("/athlete-ids/batch", s.handleAthleteBatch, http.MethodPost)
	r.HandleFunc("/queue/status", s.handleQueueStatus, http.MethodGet)
	r.HandleFunc("/queue/retry", s.handleQueueRetry, http.MethodPost)
	r.HandleFunc("/notifications", s.handleNotifications, http.MethodGet)
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.WithField("address", s.server.Addr).Info("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.status,
			"user":        r.Header.Get(UserHeader),
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("http request")
	})
}
