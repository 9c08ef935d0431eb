package tasks

import (
	"context"
	"time"

	"stitch/internal/batch"
	"stitch/internal/logging"
	"stitch/internal/merge"
	"stitch/internal/publish"
	"stitch/internal/queue"
	"stitch/internal/segments"
	"stitch/internal/workspace"
)

// Pipeline phase names recorded in progress updates.
const (
	phaseProcessing = "processing-segments"
	phaseMerging    = "merging"
	phasePublishing = "publishing"
)

// runPipeline executes one task end to end inside a private workspace:
// batched segment processing, streaming merge, compress, and publish. The
// workspace is cleaned up on every path out.
func (m *Manager) runPipeline(ctx context.Context, task *queue.Task) (*queue.Result, error) {
	logger := logging.WithContext(ctx, m.logger)
	started := time.Now()

	ws := workspace.New(m.cfg.Paths.WorkspaceDir, task.ID, logger)
	if err := ws.Initialize(); err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			logger.Warn("workspace cleanup incomplete", logging.Error(err))
		}
		publisher := publish.NewFromConfig(m.transcoder, m.objectStore, m.cfg, logger)
		if err := publisher.CleanupConversation(context.WithoutCancel(ctx), task.ConversationID); err != nil {
			logger.Warn("object store cleanup failed", logging.Error(err))
		}
	}()

	retryPolicy := segments.RetryPolicy{
		MaxAttempts: m.cfg.Pipeline.RetryAttempts,
		BackoffBase: time.Duration(m.cfg.Pipeline.RetryBackoffBaseMS) * time.Millisecond,
		BackoffCap:  time.Duration(m.cfg.Pipeline.RetryBackoffCapMS) * time.Millisecond,
	}
	processor := segments.NewProcessor(ws, m.downloader, m.transcoder, logger)
	runner := batch.NewRunner(processor, ws, batch.PolicyFromConfig(m.cfg), retryPolicy, logger)

	processed, err := runner.Run(ctx, task.Segments, func(update batch.ProgressUpdate) {
		m.reportProgress(ctx, queue.Progress{
			TaskID:            task.ID,
			CurrentPhase:      phaseProcessing,
			ProcessedSegments: update.ProcessedSegments,
			TotalSegments:     update.TotalSegments,
			ElapsedSeconds:    time.Since(started).Seconds(),
		})
	})
	if err != nil {
		return nil, err
	}

	merger := merge.NewFromConfig(ws, m.transcoder, m.cfg, logger)
	mergedPath, err := merger.Merge(ctx, processed, func(percent float64) {
		m.reportProgress(ctx, queue.Progress{
			TaskID:               task.ID,
			CurrentPhase:         phaseMerging,
			ProcessedSegments:    task.TotalSegments,
			TotalSegments:        task.TotalSegments,
			MergeProgressPercent: percent,
			ElapsedSeconds:       time.Since(started).Seconds(),
		})
	})
	if err != nil {
		return nil, err
	}

	m.reportProgress(ctx, queue.Progress{
		TaskID:               task.ID,
		CurrentPhase:         phasePublishing,
		ProcessedSegments:    task.TotalSegments,
		TotalSegments:        task.TotalSegments,
		MergeProgressPercent: 100,
		ElapsedSeconds:       time.Since(started).Seconds(),
	})

	publisher := publish.NewFromConfig(m.transcoder, m.objectStore, m.cfg, logger)
	return publisher.Publish(ctx, ws, mergedPath, task.ConversationID, task.ID)
}

// reportProgress writes a progress update. Progress is best-effort by
// contract; failures are logged and never abort the pipeline.
func (m *Manager) reportProgress(ctx context.Context, progress queue.Progress) {
	if err := m.store.UpdateProgress(ctx, progress); err != nil {
		m.logger.Warn("progress update failed",
			logging.String(logging.FieldTaskID, progress.TaskID),
			logging.String(logging.FieldPhase, progress.CurrentPhase),
			logging.Error(err),
		)
	}
}
