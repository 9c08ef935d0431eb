package batch

import (
	"context"
	"log/slog"

	"stitch/internal/logging"
	"stitch/internal/segments"
	"stitch/internal/workspace"
)

// SegmentProcessor is the per-segment pipeline the runner drives.
type SegmentProcessor interface {
	ProcessWithRetry(ctx context.Context, segment segments.Segment, index int, policy segments.RetryPolicy) (*segments.Processed, error)
}

// ProgressUpdate reports cumulative batch progress after each batch.
type ProgressUpdate struct {
	ProcessedSegments int
	TotalSegments     int
	Percent           float64
}

// ProgressFunc receives batch progress. Calls are fire-and-forget; the
// runner never inspects a result.
type ProgressFunc func(ProgressUpdate)

// Runner processes segment batches sequentially against one workspace.
type Runner struct {
	processor SegmentProcessor
	workspace *workspace.Workspace
	policy    Policy
	retry     segments.RetryPolicy
	logger    *slog.Logger
}

// NewRunner builds a batch runner.
func NewRunner(processor SegmentProcessor, ws *workspace.Workspace, policy Policy, retry segments.RetryPolicy, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		processor: processor,
		workspace: ws,
		policy:    policy,
		retry:     retry,
		logger:    logger,
	}
}

// Run processes every segment in order, one batch at a time. A segment's
// terminal failure aborts the remaining batches; every file produced so far
// is deleted before the error propagates, so a failed task leaves no
// partial output behind.
func (r *Runner) Run(ctx context.Context, segs []segments.Segment, progress ProgressFunc) ([]segments.Processed, error) {
	size := r.policy.Size(segs)
	batches := Partition(segs, size)
	total := len(segs)

	r.logger.Info("batch plan",
		logging.Int("segments", total),
		logging.Int("batch_size", size),
		logging.Int("batches", len(batches)),
		logging.Float64("total_duration_seconds", segments.TotalDuration(segs)),
	)

	processed := make([]segments.Processed, 0, total)
	index := 0
	for batchNumber, current := range batches {
		for _, segment := range current {
			result, err := r.processor.ProcessWithRetry(ctx, segment, index, r.retry)
			if err != nil {
				r.discard(processed)
				return nil, err
			}
			processed = append(processed, *result)
			index++
		}

		if progress != nil {
			progress(ProgressUpdate{
				ProcessedSegments: len(processed),
				TotalSegments:     total,
				Percent:           float64(len(processed)) / float64(total) * 100,
			})
		}
		r.logger.Debug("batch complete",
			logging.Int("batch", batchNumber+1),
			logging.Int("processed", len(processed)),
			logging.Int("total", total),
		)
	}

	return processed, nil
}

// discard removes every file produced by completed work so far.
func (r *Runner) discard(processed []segments.Processed) {
	for _, item := range processed {
		if err := r.workspace.DeleteFile(item.LocalPath); err != nil {
			r.logger.Warn("failed to discard partial output",
				logging.String("path", item.LocalPath),
				logging.Error(err),
			)
		}
	}
}
