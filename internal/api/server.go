// Package api provides the REST API server for newsdesk.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/jobs"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/sources"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
)

// Service is the job engine the API fronts.
type Service interface {
	TriggerJob(ctx context.Context, sourceNames []string, perSource int) (*jobs.Job, error)
	StartJob(ctx context.Context, sourceNames []string, perSource int) (*jobs.Job, error)
	Cancel(jobID string) error
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
	ListJobs(ctx context.Context, f store.JobFilter) ([]jobs.Job, error)
	ListJobLogs(ctx context.Context, jobID string, q store.LogQuery) (*jobs.LogPage, error)
	ListArticles(ctx context.Context, f store.ArticleFilter) ([]sources.Article, error)
	Sources() []sources.Source
}

// Server holds the dependencies for the API.
type Server struct {
	svc         Service
	logger      *slog.Logger
	allowOrigin string
}

// NewServer creates a new API Server instance. allowOrigin sets the CORS
// origin; empty disables CORS headers.
func NewServer(svc Service, allowOrigin string) *Server {
	return &Server{
		svc:         svc,
		logger:      slog.Default(),
		allowOrigin: allowOrigin,
	}
}

// WithLogger sets the request and error logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

// Routes returns the configured http.Handler for the API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.handleListSources())

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob())
			r.Get("/", s.handleListJobs())
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob())
				r.Get("/logs", s.handleJobLogs())
				r.Get("/articles", s.handleJobArticles())
				r.Post("/cancel", s.handleCancelJob())
			})
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.allowOrigin == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
