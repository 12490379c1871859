// Package server exposes ingestion and question answering over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dream-ai/docchat/internal/ingest"
	"github.com/dream-ai/docchat/internal/rag"
)

const (
	maxQueryBody   = 1 << 20
	multipartSlack = 1 << 20
	userCookieName = "docchat_user"
	userCookieAge  = 86400 * 365
)

type Config struct {
	Addr              string
	MaxUploadSize     int64
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg     Config
	ingest  *ingest.Service
	queries *rag.Orchestrator
	logger  *slog.Logger
	handler http.Handler
}

func New(cfg Config, ing *ingest.Service, orch *rag.Orchestrator) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 15 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, ingest: ing, queries: orch, logger: cfg.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/files/upload", s.handleUpload)
	mux.HandleFunc("GET /api/files/list", s.handleList)
	mux.HandleFunc("DELETE /api/files/{file_id}", s.handleDelete)
	mux.HandleFunc("POST /api/files/{file_id}/reindex", s.handleReindex)
	mux.HandleFunc("POST /api/chat/query/stream", s.handleQueryStream)
	mux.HandleFunc("POST /api/chat/query", s.handleQuery)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	s.handler = s.logRequests(mux)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", "http://"+s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.queries.Wait()
	s.logger.Info("http server stopped")
	return nil
}

// userID returns the server-issued identity of the caller, creating it on
// first contact.
func (s *Server) userID(rw http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(userCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := "u_" + uuid.NewString()
	http.SetCookie(rw, &http.Cookie{
		Name:     userCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   userCookieAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
