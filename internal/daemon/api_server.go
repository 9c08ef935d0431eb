package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"stitch/internal/config"
	"stitch/internal/logging"
	"stitch/internal/services"
	"stitch/internal/tasks"

	"github.com/google/uuid"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address not configured")
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/merge", authMiddleware(token, srv.handleMerge))
	mux.HandleFunc("/api/tasks/", authMiddleware(token, srv.handleTask))
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))

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

// Addr returns the bound listen address, for tests that bind port 0.
func (s *apiServer) addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

type mergeQueuedResponse struct {
	TaskID          string `json:"taskId"`
	QueuePosition   int    `json:"queuePosition"`
	ProcessingCount int    `json:"processingCount"`
}

type mergeConflictResponse struct {
	TaskID   string `json:"taskId"`
	Status   string `json:"status"`
	Progress any    `json:"progress,omitempty"`
}

func (s *apiServer) handleMerge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req tasks.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx := services.WithRequestID(r.Context(), uuid.NewString())

	// A synthetic test request reports environment health without touching
	// the pipeline.
	if req.Test {
		report := s.daemon.service.Health(ctx)
		status := http.StatusOK
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
		s.writeJSON(w, status, report)
		return
	}

	resp, err := s.daemon.service.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log().Error("submit failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch resp.Disposition {
	case tasks.DispositionCompleted:
		s.writeJSON(w, http.StatusOK, resp.Result)
	case tasks.DispositionConflict:
		s.writeJSON(w, http.StatusConflict, mergeConflictResponse{
			TaskID:   resp.TaskID,
			Status:   string(resp.Status),
			Progress: progressPayload(resp),
		})
	default:
		s.writeJSON(w, http.StatusAccepted, mergeQueuedResponse{
			TaskID:          resp.TaskID,
			QueuePosition:   resp.QueuePosition,
			ProcessingCount: resp.ProcessingCount,
		})
	}
}

func progressPayload(resp *tasks.SubmitResponse) any {
	if resp.Progress == nil {
		return nil
	}
	return resp.Progress
}

// handleTask serves /api/tasks/{id} and /api/tasks/{id}/progress.
func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" || (sub != "" && sub != "progress") {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	if sub == "progress" {
		progress, err := s.daemon.service.Progress(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if progress == nil {
			s.writeError(w, http.StatusNotFound, "no progress recorded")
			return
		}
		s.writeJSON(w, http.StatusOK, progress)
		return
	}

	task, err := s.daemon.service.Task(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, taskPayload(task))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
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
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
