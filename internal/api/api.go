// Package api serves the thumbnail service over HTTP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/tendant/url-thumbnailer/internal/process"
	"github.com/tendant/url-thumbnailer/internal/store"
	"github.com/tendant/url-thumbnailer/internal/thumbnail"
	"github.com/tendant/url-thumbnailer/pkg/schema"
)

// Task states reported by GET /thumbnail.
const (
	TaskStatusPending = "PENDING"
	TaskStatusStarted = "STARTED"
	TaskStatusSuccess = "SUCCESS"
	TaskStatusFailure = "FAILURE"
)

type Thumbnailer interface {
	Submit(ctx context.Context, sourceURL string) (string, error)
	GetStatus(ctx context.Context, taskID string) (thumbnail.Status, error)
	GetResult(ctx context.Context, taskID string) (*store.Artifact, error)
}

type Server struct {
	svc    Thumbnailer
	logger *slog.Logger
	server *http.Server
}

func NewServer(addr string, svc Thumbnailer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}

	router := mux.NewRouter()
	router.Use(s.logRequests)
	s.setupRoutes(router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"Content-Length", "Last-Modified"},
		MaxAge:         300,
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/thumbnail", s.Submit).Methods(http.MethodPost)
	router.HandleFunc("/thumbnail", s.Result).Methods(http.MethodGet).Queries("task_id", "{task_id}")
	router.HandleFunc("/thumbnail", s.missingTaskID).Methods(http.MethodGet)
	router.HandleFunc("/thumbnail/{id}/status", s.Status).Methods(http.MethodGet)
	router.HandleFunc("/thumbnail/{id}/image", s.Image).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, schema.HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	var req schema.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", "", err)
		return
	}

	id, err := s.svc.Submit(r.Context(), req.SourceImageURL)
	var ve *thumbnail.ValidationError
	switch {
	case errors.As(err, &ve):
		s.sendError(w, http.StatusBadRequest, "invalid request", "", err)
		return
	case errors.Is(err, thumbnail.ErrCapacity):
		w.Header().Set("Retry-After", "5")
		s.sendError(w, http.StatusServiceUnavailable, "service busy, retry later", "", err)
		return
	case err != nil:
		s.logger.Error("submit failed", "source", req.SourceImageURL, "err", err)
		s.sendError(w, http.StatusInternalServerError, "submit failed", "", err)
		return
	}

	s.sendJSON(w, http.StatusOK, schema.SubmitResponse{
		Message: "thumbnail task submitted",
		TaskID:  id,
	})
}

// Result answers the polling form GET /thumbnail?task_id=. Pending tasks get
// 202, failed tasks 200 with FAILURE, unknown ids 404.
func (s *Server) Result(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("task_id")
	if id == "" {
		s.missingTaskID(w, r)
		return
	}

	artifact, err := s.svc.GetResult(r.Context(), id)
	var failed *thumbnail.JobFailedError
	switch {
	case errors.Is(err, thumbnail.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "task not found", id, err)
		return
	case errors.As(err, &failed):
		s.sendJSON(w, http.StatusOK, schema.ResultResponse{
			Message:    failed.Reason,
			TaskID:     id,
			TaskStatus: TaskStatusFailure,
		})
		return
	case errors.Is(err, thumbnail.ErrNotCompleted):
		st, serr := s.svc.GetStatus(r.Context(), id)
		if serr != nil {
			s.sendError(w, http.StatusInternalServerError, "status lookup failed", id, serr)
			return
		}
		s.sendJSON(w, http.StatusAccepted, schema.ResultResponse{
			Message:    "task not completed",
			TaskID:     id,
			TaskStatus: taskStatus(st.State),
		})
		return
	case err != nil:
		s.logger.Error("get result failed", "task_id", id, "err", err)
		s.sendError(w, http.StatusInternalServerError, "result lookup failed", id, err)
		return
	}

	s.sendJSON(w, http.StatusOK, schema.ResultResponse{
		Message:             "ok",
		TaskID:              id,
		TaskStatus:          TaskStatusSuccess,
		Fingerprint:         artifact.Fingerprint.String(),
		Format:              artifact.Format,
		Width:               artifact.Width,
		Height:              artifact.Height,
		Base64ThumbnailData: base64.StdEncoding.EncodeToString(artifact.Data),
		LastModified:        artifact.ModifiedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) missingTaskID(w http.ResponseWriter, r *http.Request) {
	s.sendError(w, http.StatusBadRequest, "task_id query parameter is required", "", nil)
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, err := s.svc.GetStatus(r.Context(), id)
	if err != nil {
		s.logger.Error("get status failed", "task_id", id, "err", err)
		s.sendError(w, http.StatusInternalServerError, "status lookup failed", id, err)
		return
	}

	code := http.StatusOK
	if !st.Found {
		code = http.StatusNotFound
	}
	s.sendJSON(w, code, schema.StatusResponse{
		TaskID:    id,
		Found:     st.Found,
		Completed: st.Completed,
		State:     string(st.State),
		Error:     st.Error,
	})
}

func (s *Server) Image(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	artifact, err := s.svc.GetResult(r.Context(), id)
	switch {
	case errors.Is(err, thumbnail.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "task not found", id, err)
		return
	case errors.Is(err, thumbnail.ErrNotCompleted):
		s.sendError(w, http.StatusNotFound, "thumbnail not ready", id, err)
		return
	case err != nil:
		s.logger.Error("get image failed", "task_id", id, "err", err)
		s.sendError(w, http.StatusInternalServerError, "result lookup failed", id, err)
		return
	}

	w.Header().Set("Content-Type", "image/"+artifact.Format)
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	if !artifact.ModifiedAt.IsZero() {
		w.Header().Set("Last-Modified", artifact.ModifiedAt.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Data); err != nil {
		s.logger.Warn("write image failed", "task_id", id, "err", err)
	}
}

func taskStatus(state process.JobStatus) string {
	switch state {
	case process.JobStatusRunning:
		return TaskStatusStarted
	case process.JobStatusSucceeded:
		return TaskStatusSuccess
	case process.JobStatusFailed:
		return TaskStatusFailure
	default:
		return TaskStatusPending
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response failed", "err", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message, taskID string, err error) {
	resp := schema.ErrorResponse{Message: message, TaskID: taskID}
	if err != nil {
		resp.Error = err.Error()
	}
	s.sendJSON(w, code, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
