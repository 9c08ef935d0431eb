package tasks

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"stitch/internal/config"
	"stitch/internal/logging"
	"stitch/internal/queue"
	"stitch/internal/segments"
	"stitch/internal/services"
	"stitch/internal/workspace"
)

// Disposition classifies the outcome of a submit call.
type Disposition string

const (
	// DispositionCompleted means an identical task already finished; the
	// cached result is returned without reprocessing.
	DispositionCompleted Disposition = "completed"
	// DispositionQueued means the task was enqueued for processing.
	DispositionQueued Disposition = "queued"
	// DispositionConflict means an identical task is already queued or
	// processing; the caller should poll instead of resubmitting.
	DispositionConflict Disposition = "conflict"
)

// SubmitRequest is one merge request.
type SubmitRequest struct {
	ConversationID string             `json:"conversationId"`
	Segments       []segments.Segment `json:"segments"`
	Test           bool               `json:"test,omitempty"`
}

// SubmitResponse reports how a submission was resolved.
type SubmitResponse struct {
	Disposition     Disposition
	TaskID          string
	Result          *queue.Result
	QueuePosition   int
	ProcessingCount int
	Status          queue.Status
	Progress        *queue.Progress
}

// Prober checks that the external transcoder binary is runnable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Service resolves submissions against the task store.
type Service struct {
	store  *queue.Store
	cfg    *config.Config
	prober Prober
	logger *slog.Logger
}

// NewService builds a submit service. prober may be nil; health reports
// then skip the transcoder check.
func NewService(store *queue.Store, cfg *config.Config, prober Prober, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: store, cfg: cfg, prober: prober, logger: logger}
}

// Submit resolves a merge request: identical completed work replays the
// cached result, in-flight work reports a conflict, failed records are
// superseded, and new work is enqueued.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return nil, services.Wrap(services.ErrValidation, "submit", "request", "conversationId is required", nil)
	}
	if err := segments.ValidateAll(req.Segments); err != nil {
		return nil, services.Wrap(services.ErrValidation, "submit", "request", "invalid segments", err)
	}

	taskID := TaskID(req.ConversationID, req.Segments)
	logger := s.logger.With(logging.String(logging.FieldTaskID, taskID))

	existing, err := s.store.GetByID(ctx, taskID)
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "submit", "lookup", "look up existing task", err)
	}

	if existing != nil {
		switch existing.Status {
		case queue.StatusCompleted:
			logger.Info("replaying cached result", logging.String(logging.FieldEventType, "task_replayed"))
			return &SubmitResponse{
				Disposition: DispositionCompleted,
				TaskID:      taskID,
				Result:      existing.Result,
			}, nil

		case queue.StatusQueued, queue.StatusProcessing:
			progress, progressErr := s.store.GetProgress(ctx, taskID)
			if progressErr != nil {
				logger.Warn("progress lookup failed for conflict response", logging.Error(progressErr))
			}
			return &SubmitResponse{
				Disposition: DispositionConflict,
				TaskID:      taskID,
				Status:      existing.Status,
				Progress:    progress,
			}, nil

		case queue.StatusFailed:
			// A failed record never resurrects in place; delete it and
			// enqueue fresh under the same id.
			if _, err := s.store.Remove(ctx, taskID); err != nil {
				return nil, services.Wrap(services.ErrStore, "submit", "supersede", "remove failed task record", err)
			}
			logger.Info("superseding failed task", logging.String(logging.FieldEventType, "task_superseded"))
		}
	}

	task := &queue.Task{
		ID:             taskID,
		ConversationID: req.ConversationID,
		Segments:       req.Segments,
	}
	if err := s.store.Enqueue(ctx, task); err != nil {
		if errors.Is(err, queue.ErrDuplicateTask) {
			// Lost an enqueue race with an identical request.
			current, lookupErr := s.store.GetByID(ctx, taskID)
			if lookupErr == nil && current != nil {
				return &SubmitResponse{
					Disposition: DispositionConflict,
					TaskID:      taskID,
					Status:      current.Status,
				}, nil
			}
		}
		return nil, services.Wrap(services.ErrStore, "submit", "enqueue", "enqueue task", err)
	}

	position, err := s.store.QueuePosition(ctx, taskID)
	if err != nil {
		logger.Warn("queue position lookup failed", logging.Error(err))
	}
	processing, err := s.store.CountByStatus(ctx, queue.StatusProcessing)
	if err != nil {
		logger.Warn("processing count lookup failed", logging.Error(err))
	}

	logger.Info("task enqueued",
		logging.Int("segments", len(req.Segments)),
		logging.Int("queue_position", position),
		logging.String(logging.FieldEventType, "task_enqueued"),
	)
	return &SubmitResponse{
		Disposition:     DispositionQueued,
		TaskID:          taskID,
		QueuePosition:   position,
		ProcessingCount: processing,
	}, nil
}

// Task returns the stored record for a task id, nil when absent.
func (s *Service) Task(ctx context.Context, id string) (*queue.Task, error) {
	return s.store.GetByID(ctx, id)
}

// Progress returns the progress projection for a task id, nil when absent.
func (s *Service) Progress(ctx context.Context, id string) (*queue.Progress, error) {
	return s.store.GetProgress(ctx, id)
}

// HealthReport summarizes environment readiness for synthetic test
// submissions and the status endpoint.
type HealthReport struct {
	StoreReachable    bool                `json:"storeReachable"`
	WorkspaceWritable bool                `json:"workspaceWritable"`
	TranscoderReady   bool                `json:"transcoderReady"`
	Detail            string              `json:"detail,omitempty"`
	Queue             queue.HealthSummary `json:"queue"`
}

// Healthy reports whether every probe passed.
func (r HealthReport) Healthy() bool {
	return r.StoreReachable && r.WorkspaceWritable && r.TranscoderReady
}

// Health probes the store, the workspace directory, and the transcoder
// binary without touching the pipeline.
func (s *Service) Health(ctx context.Context) HealthReport {
	report := HealthReport{TranscoderReady: true}
	var details []string

	summary, err := s.store.Health(ctx)
	if err != nil {
		details = append(details, "store: "+err.Error())
	} else {
		report.StoreReachable = true
		report.Queue = summary
	}

	probe := workspace.New(s.cfg.Paths.WorkspaceDir, "health-probe", s.logger)
	if err := probe.Initialize(); err != nil {
		details = append(details, "workspace: "+err.Error())
	} else {
		report.WorkspaceWritable = true
		_ = probe.Cleanup()
	}

	if s.prober != nil {
		if err := s.prober.Probe(ctx); err != nil {
			report.TranscoderReady = false
			details = append(details, "transcoder: "+err.Error())
		}
	}

	report.Detail = strings.Join(details, "; ")
	return report
}
