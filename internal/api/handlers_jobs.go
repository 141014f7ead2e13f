package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/jobs"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/pipeline"
	"github.com/RobinCoderZhao/newsdesk/internal/newsdesk/store"
)

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	Sources           []string `json:"sources"`
	ArticlesPerSource int      `json:"articles_per_source"`
	// Wait runs the job to completion before responding.
	Wait bool `json:"wait,omitempty"`
}

func (s *Server) handleCreateJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var (
			job    *jobs.Job
			err    error
			status = http.StatusAccepted
		)
		if req.Wait {
			job, err = s.svc.TriggerJob(r.Context(), req.Sources, req.ArticlesPerSource)
			status = http.StatusOK
		} else {
			job, err = s.svc.StartJob(r.Context(), req.Sources, req.ArticlesPerSource)
		}
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			s.logger.Error("trigger job", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to start job")
			return
		}
		respondJSON(w, status, job)
	}
}

func (s *Server) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := store.JobFilter{
			Status: jobs.Status(q.Get("status")),
			Limit:  queryInt(r, "limit", 0),
			Offset: queryInt(r, "offset", 0),
		}
		if f.Status != "" && !f.Status.Valid() {
			respondError(w, http.StatusBadRequest, "unknown status")
			return
		}
		list, err := s.svc.ListJobs(r.Context(), f)
		if err != nil {
			s.logger.Error("list jobs", "error", err)
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"jobs": list})
	}
}

func (s *Server) handleGetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := s.loadJob(w, r)
		if !ok {
			return
		}
		respondJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleJobLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := s.loadJob(w, r)
		if !ok {
			return
		}
		q := store.LogQuery{
			Page:     queryInt(r, "page", 1),
			PageSize: queryInt(r, "page_size", 0),
			Level:    jobs.Level(r.URL.Query().Get("level")),
			Source:   r.URL.Query().Get("source"),
		}
		page, err := s.svc.ListJobLogs(r.Context(), job.ID, q)
		if err != nil {
			s.logger.Error("list job logs", "job_id", job.ID, "error", err)
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		respondJSON(w, http.StatusOK, page)
	}
}

func (s *Server) handleJobArticles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := s.loadJob(w, r)
		if !ok {
			return
		}
		list, err := s.svc.ListArticles(r.Context(), store.ArticleFilter{
			JobID:  job.ID,
			Limit:  queryInt(r, "limit", 0),
			Offset: queryInt(r, "offset", 0),
		})
		if err != nil {
			s.logger.Error("list job articles", "job_id", job.ID, "error", err)
			respondError(w, http.StatusInternalServerError, "Database error")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"articles": list})
	}
}

func (s *Server) handleCancelJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := s.svc.Cancel(id)
		if errors.Is(err, pipeline.ErrJobNotRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			s.logger.Error("cancel job", "job_id", id, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to cancel job")
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
	}
}

func (s *Server) handleListSources() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"sources": s.svc.Sources()})
	}
}

// loadJob resolves the {id} URL parameter, writing a 404 or 500 when the
// job cannot be returned.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	id := chi.URLParam(r, "id")
	job, err := s.svc.GetJob(r.Context(), id)
	if err != nil {
		s.logger.Error("get job", "job_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return nil, false
	}
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
