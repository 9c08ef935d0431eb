package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"stitch/internal/config"
	"stitch/internal/logging"
	"stitch/internal/publish"
	"stitch/internal/queue"
	"stitch/internal/segments"
	"stitch/internal/services"
	"stitch/internal/transcoder"
)

// Manager is the worker loop: it claims queued tasks one at a time, drives
// them through the pipeline, and finalizes the records. It also runs the
// stuck-task and TTL sweeps between polls.
type Manager struct {
	store       *queue.Store
	cfg         *config.Config
	transcoder  transcoder.Client
	objectStore publish.ObjectStore
	downloader  segments.Downloader
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager builds a worker manager.
func NewManager(store *queue.Store, cfg *config.Config, client transcoder.Client, objectStore publish.ObjectStore, downloader segments.Downloader, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:       store,
		cfg:         cfg,
		transcoder:  client,
		objectStore: objectStore,
		downloader:  downloader,
		logger:      logger.With(logging.String(logging.FieldComponent, "worker")),
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.sweep(ctx)

		task, err := m.store.ClaimNext(ctx)
		if err != nil {
			m.logger.Error("failed to claim next task",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
				logging.String(logging.FieldErrorHint, "check task database access"),
			)
			m.waitOrShutdown(ctx)
			continue
		}
		if task == nil {
			m.waitOrShutdown(ctx)
			continue
		}

		m.processTask(ctx, task)
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.cfg.QueuePollInterval()):
	}
}

// sweep reclaims abandoned processing tasks and drops expired records.
func (m *Manager) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.StuckMaxAge())
	reclaimed, err := m.store.ReclaimStuck(ctx, cutoff, m.cfg.TaskTTL())
	if err != nil {
		m.logger.Warn("stuck task sweep failed", logging.Error(err))
	} else if reclaimed > 0 {
		m.logger.Info("reclaimed stuck tasks",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "stuck_tasks_reclaimed"),
		)
	}

	swept, err := m.store.SweepExpired(ctx)
	if err != nil {
		m.logger.Warn("expired task sweep failed", logging.Error(err))
	} else if swept > 0 {
		m.logger.Debug("swept expired tasks", logging.Int64("count", swept))
	}
}

// processTask runs one claimed task through the pipeline and finalizes its
// record. A heartbeat goroutine refreshes the claim while the pipeline runs
// so the stuck sweep leaves it alone.
func (m *Manager) processTask(ctx context.Context, task *queue.Task) {
	taskCtx := services.WithTaskID(ctx, task.ID)
	logger := logging.WithContext(taskCtx, m.logger)

	logger.Info("task claimed",
		logging.Int("segments", task.TotalSegments),
		logging.String(logging.FieldEventType, "task_started"),
	)

	heartbeatCtx, stopHeartbeat := context.WithCancel(taskCtx)
	var heartbeatWG sync.WaitGroup
	heartbeatWG.Add(1)
	go m.heartbeatLoop(heartbeatCtx, &heartbeatWG, task.ID)

	started := time.Now()
	result, runErr := m.runPipeline(taskCtx, task)

	stopHeartbeat()
	heartbeatWG.Wait()

	if runErr != nil {
		if ctx.Err() != nil {
			m.failTask(context.WithoutCancel(taskCtx), task, queue.DaemonStopReason, nil, logger)
			return
		}
		message, history := describeFailure(runErr)
		m.failTask(taskCtx, task, message, history, logger)
		return
	}

	if err := m.store.Complete(taskCtx, task, result, m.cfg.TaskTTL()); err != nil {
		logger.Error("failed to persist completed task",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_finalize_failed"),
		)
		return
	}
	logger.Info("task completed",
		logging.Duration("elapsed", time.Since(started)),
		logging.Int64("result_bytes", result.Size),
		logging.Bool("large", result.IsLarge),
		logging.String(logging.FieldEventType, "task_completed"),
	)
}

func (m *Manager) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, taskID string) {
	defer wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.Touch(ctx, taskID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				m.logger.Warn("task heartbeat failed",
					logging.String(logging.FieldTaskID, taskID),
					logging.Error(err),
				)
			}
		}
	}
}

func (m *Manager) failTask(ctx context.Context, task *queue.Task, message string, history []queue.TaskError, logger *slog.Logger) {
	if err := m.store.Fail(ctx, task, message, history, m.cfg.TaskTTL()); err != nil {
		logger.Error("failed to persist failed task",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_finalize_failed"),
		)
		return
	}
	logger.Warn("task failed",
		logging.String("reason", message),
		logging.Int("recorded_errors", len(history)),
		logging.String(logging.FieldEventType, "task_failed"),
	)
}

// describeFailure converts a pipeline error into the stored failure message
// plus the per-attempt history when a segment exhausted its retries.
func describeFailure(err error) (string, []queue.TaskError) {
	var exhausted *segments.ExhaustedError
	if errors.As(err, &exhausted) {
		history := make([]queue.TaskError, 0, len(exhausted.Attempts))
		for _, attempt := range exhausted.Attempts {
			history = append(history, queue.TaskError{
				SegmentIndex: attempt.SegmentIndex,
				Attempt:      attempt.Attempt,
				Phase:        attempt.Phase,
				Message:      attempt.Message,
				OccurredAt:   attempt.OccurredAt,
			})
		}
		return err.Error(), history
	}
	return err.Error(), nil
}
