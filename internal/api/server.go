// Package api exposes the read-only HTTP query service over crawled data.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threadmill/flarum-crawler/internal/entity"
	"github.com/threadmill/flarum-crawler/internal/metrics"
	"github.com/threadmill/flarum-crawler/internal/store"
)

// DiscussionReader serves stored discussions.
type DiscussionReader interface {
	Get(ctx context.Context, id int64, withPosts bool) (*entity.Discussion, error)
}

// JobReader serves ledger rows.
type JobReader interface {
	GetJob(ctx context.Context, entityType string, entityID int64) (entity.Job, error)
}

// Server wires HTTP handlers to the stores. It never writes.
type Server struct {
	router      chi.Router
	discussions DiscussionReader
	jobs        JobReader
	logger      *zap.Logger
}

// NewServer constructs a Server with routes and middleware.
func NewServer(discussions DiscussionReader, jobs JobReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		discussions: discussions,
		jobs:        jobs,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/discussions/{id}", s.getDiscussion)
		r.Get("/jobs/{entity}/{id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getDiscussion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid discussion id")
		return
	}
	withPosts := r.URL.Query().Get("posts") != "" && r.URL.Query().Get("posts") != "false"

	discussion, err := s.discussions.Get(r.Context(), id, withPosts)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "discussion not found")
			return
		}
		s.logger.Error("get discussion failed", zap.Int64("discussion_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.writeJSON(w, http.StatusOK, discussion)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entity")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid entity id")
		return
	}

	job, err := s.jobs.GetJob(r.Context(), entityType, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed",
			zap.String("entity", entityType),
			zap.Int64("entity_id", id),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
