package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimNext atomically moves the oldest queued task to processing and
// returns it. The claim is a single conditional UPDATE inside a transaction,
// so under concurrent workers exactly one claims a given task. Returns nil
// when the queue is empty.
func (s *Store) ClaimNext(ctx context.Context) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(
		ctx,
		`SELECT id FROM tasks WHERE status = ? ORDER BY queued_at LIMIT 1`,
		StatusQueued,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select next queued: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(
		ctx,
		`UPDATE tasks
         SET status = ?, processing_started_at = ?, last_updated = ?
         WHERE id = ? AND status = ?`,
		StatusProcessing,
		now,
		now,
		id,
		StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Lost the race to another worker; treat as empty poll.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Touch refreshes a processing task's last_updated timestamp. The stuck-task
// sweep keys off this heartbeat.
func (s *Store) Touch(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET last_updated = ? WHERE id = ? AND status = ?`,
		now,
		id,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("touch task: %w", err)
	}
	return nil
}

// UpdateProgress upserts the progress projection and mirrors the processed
// counter onto the task record.
func (s *Store) UpdateProgress(ctx context.Context, progress Progress) error {
	now := time.Now().UTC()
	progress.UpdatedAt = now

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO task_progress (
            task_id, current_phase, details, processed_segments, total_segments,
            merge_progress_percent, elapsed_seconds, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (task_id) DO UPDATE SET
            current_phase = excluded.current_phase,
            details = excluded.details,
            processed_segments = excluded.processed_segments,
            total_segments = excluded.total_segments,
            merge_progress_percent = excluded.merge_progress_percent,
            elapsed_seconds = excluded.elapsed_seconds,
            updated_at = excluded.updated_at`,
		progress.TaskID,
		progress.CurrentPhase,
		progress.Details,
		progress.ProcessedSegments,
		progress.TotalSegments,
		progress.MergeProgressPercent,
		progress.ElapsedSeconds,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE tasks SET processed_segments = ?, last_updated = ? WHERE id = ?`,
		progress.ProcessedSegments,
		now.Format(time.RFC3339Nano),
		progress.TaskID,
	)
	if err != nil {
		return fmt.Errorf("mirror progress counters: %w", err)
	}
	return nil
}

// GetProgress fetches the progress projection for a task. Returns nil when
// no progress has been recorded.
func (s *Store) GetProgress(ctx context.Context, id string) (*Progress, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT task_id, current_phase, details, processed_segments, total_segments,
                merge_progress_percent, elapsed_seconds, updated_at
         FROM task_progress WHERE task_id = ?`,
		id,
	)

	var progress Progress
	var updatedRaw string
	err := row.Scan(
		&progress.TaskID,
		&progress.CurrentPhase,
		&progress.Details,
		&progress.ProcessedSegments,
		&progress.TotalSegments,
		&progress.MergeProgressPercent,
		&progress.ElapsedSeconds,
		&updatedRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		progress.UpdatedAt = updated
	}
	return &progress, nil
}

// Complete marks a task completed with its published result and arms the TTL
// on both the task and progress records.
func (s *Store) Complete(ctx context.Context, task *Task, result *Result, ttl time.Duration) error {
	if task == nil {
		return errors.New("task is nil")
	}
	now := time.Now().UTC()
	expires := now.Add(ttl)

	task.Status = StatusCompleted
	task.Result = result
	task.CompletedAt = &now
	task.ExpiresAt = &expires
	task.ProcessedSegments = task.TotalSegments
	if err := s.Update(ctx, task); err != nil {
		return err
	}
	return nil
}

// Fail marks a task failed with the classified error history and arms the TTL.
func (s *Store) Fail(ctx context.Context, task *Task, message string, taskErrors []TaskError, ttl time.Duration) error {
	if task == nil {
		return errors.New("task is nil")
	}
	now := time.Now().UTC()
	expires := now.Add(ttl)

	task.Status = StatusFailed
	task.ErrorMessage = message
	if len(taskErrors) > 0 {
		task.Errors = append(task.Errors, taskErrors...)
	}
	task.FailedAt = &now
	task.ExpiresAt = &expires
	return s.Update(ctx, task)
}

// ReclaimStuck fails processing tasks whose last_updated is older than the
// cutoff. A failed record can be superseded by a fresh submission, so the
// task id becomes available again without manual intervention.
func (s *Store) ReclaimStuck(ctx context.Context, cutoff time.Time, ttl time.Duration) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET status = ?, error_message = ?, failed_at = ?, expires_at = ?, last_updated = ?
         WHERE status = ? AND last_updated < ?`,
		StatusFailed,
		StuckReason,
		now.Format(time.RFC3339Nano),
		now.Add(ttl).Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		StatusProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck tasks: %w", err)
	}
	return res.RowsAffected()
}

// SweepExpired removes terminal tasks whose TTL elapsed, along with their
// progress projections.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM task_progress WHERE task_id IN (
            SELECT id FROM tasks WHERE expires_at IS NOT NULL AND expires_at < ?
        )`,
		now,
	); err != nil {
		return 0, fmt.Errorf("sweep expired progress: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM tasks WHERE expires_at IS NOT NULL AND expires_at < ?`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired tasks: %w", err)
	}
	return res.RowsAffected()
}
