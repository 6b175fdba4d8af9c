package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"resonate/internal/config"
	"resonate/internal/core"
	"resonate/internal/logging"
	"resonate/internal/services"
	"resonate/internal/tasks"
)

// maxBodyBytes caps inbound request and webhook payloads.
const maxBodyBytes = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", withRequestID(authMiddleware(token, srv.handleStatus)))
	mux.HandleFunc("/api/tasks", withRequestID(authMiddleware(token, srv.handleTasks)))
	mux.HandleFunc("/api/tasks/", withRequestID(authMiddleware(token, srv.handleTaskItem)))
	// Providers call back here with their own payloads and cannot carry the
	// operator token; task IDs in the path are unguessable UUIDs.
	mux.HandleFunc("/api/webhooks/", withRequestID(srv.handleWebhook))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

type statusResponse struct {
	Running      bool                `json:"running"`
	PID          int                 `json:"pid"`
	TaskDBPath   string              `json:"task_db_path"`
	LockFilePath string              `json:"lock_file_path"`
	Health       tasks.HealthSummary `json:"health"`
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, statusResponse{
		Running:      status.Running,
		PID:          status.PID,
		TaskDBPath:   status.TaskDBPath,
		LockFilePath: status.LockFilePath,
		Health:       status.Health,
	})
}

type taskListResponse struct {
	Tasks []tasks.Public `json:"tasks"`
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req core.CreateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := s.daemon.Service().CreateTask(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, task.Public())
}

func (s *apiServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	list, err := s.daemon.Service().ListTasks(r.Context(), owner)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]tasks.Public, 0, len(list))
	for _, task := range list {
		out = append(out, task.Public())
	}
	s.writeJSON(w, http.StatusOK, taskListResponse{Tasks: out})
}

func (s *apiServer) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	r = r.WithContext(services.WithTaskID(r.Context(), id))

	switch {
	case action == "" && r.Method == http.MethodGet:
		task, err := s.daemon.Service().GetTask(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, task.Public())
	case action == "retry" && r.Method == http.MethodPost:
		retried, err := s.daemon.Service().RetryTask(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if !retried {
			s.writeError(w, http.StatusConflict, "task is not in a retryable state")
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id, "status": "retrying"})
	default:
		s.writeError(w, http.StatusNotFound, "task not found")
	}
}

func (s *apiServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/webhooks/")
	provider, taskID, ok := strings.Cut(rest, "/")
	if !ok || provider == "" || taskID == "" || strings.Contains(taskID, "/") {
		s.writeError(w, http.StatusNotFound, "unknown webhook path")
		return
	}
	r = r.WithContext(services.WithTaskID(r.Context(), taskID))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	if err := s.daemon.Service().HandleWebhook(r.Context(), provider, taskID, payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// withRequestID stamps every request with a correlation identifier, echoed
// back in the response so operators can tie a failure to its log lines.
func withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	}
}

// writeServiceError maps marker errors onto HTTP status codes. Unclassified
// errors are logged with their correlation identifiers before the 500.
func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInsufficientFunds):
		s.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		attrs := []logging.Attr{logging.Error(err)}
		if requestID, ok := services.RequestIDFromContext(r.Context()); ok {
			attrs = append(attrs, logging.String(logging.FieldRequestID, requestID))
		}
		if taskID, ok := services.TaskIDFromContext(r.Context()); ok {
			attrs = append(attrs, logging.String(logging.FieldTaskID, taskID))
		}
		s.log().Error("request failed", logging.Args(attrs...)...)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.WithComponent(s.logger, "api-server")
	}
	return logging.NewNop()
}
