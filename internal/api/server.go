package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/jlmorenorodriguez/imagetask-api/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TaskService is the slice of the orchestrator the HTTP layer needs.
type TaskService interface {
	Create(ctx context.Context, input string) (domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, bool, error)
	List(ctx context.Context) ([]domain.Task, error)
}

type Server struct {
	logger                *log.Logger
	tasks                 TaskService
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

func NewServer(logger *log.Logger, tasks TaskService, rateLimiter RateLimiter) *Server {
	s := &Server{
		logger:                logger,
		tasks:                 tasks,
		rateLimiter:           rateLimiter,
		rateLimitUserIDHeader: "X-User-ID",
		metrics:               newMetrics(),
		tracer:                otel.Tracer("imagetask/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = s.withRateLimit(handler)
	handler = s.withTracing(handler)
	handler = s.metrics.withHTTPMetrics(handler)
	return handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /v1/tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	task, err := s.tasks.Create(r.Context(), strings.TrimSpace(req.ImagePath))
	if err != nil {
		s.logger.Printf("create task failed err=%v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create task"})
		return
	}

	s.metrics.tasksCreated.Inc()
	writeJSON(w, http.StatusCreated, map[string]any{
		"task_id": task.ID,
		"status":  task.Status,
		"price":   task.Price,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	task, ok, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.logger.Printf("fetch task failed task_id=%s err=%v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load task"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	writeJSON(w, http.StatusOK, taskView(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	all, err := s.tasks.List(r.Context())
	if err != nil {
		s.logger.Printf("list tasks failed err=%v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
		return
	}

	views := make([]map[string]any, 0, len(all))
	for _, task := range all {
		views = append(views, taskView(task))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
}

// taskView shapes the response: images only appear on completed tasks
// and error_message only on failed ones.
func taskView(task domain.Task) map[string]any {
	view := map[string]any{
		"task_id":       task.ID,
		"status":        task.Status,
		"price":         task.Price,
		"original_path": task.OriginalPath,
		"created_at":    task.CreatedAt,
		"updated_at":    task.UpdatedAt,
	}
	if task.Status == domain.TaskStatusCompleted {
		view["images"] = task.Images
	}
	if task.Status == domain.TaskStatusFailed {
		view["error_message"] = task.ErrorMessage
	}
	return view
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
