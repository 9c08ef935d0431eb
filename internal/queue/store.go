package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"stitch/internal/config"
)

// ErrDuplicateTask indicates an enqueue attempt for an id that already exists.
var ErrDuplicateTask = errors.New("task already enqueued")

// Store manages task persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the task database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "tasks.db")
	return OpenPath(dbPath)
}

// OpenPath opens the task database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Enqueue inserts a new task with status queued. Returns ErrDuplicateTask
// when a record with the same id already exists.
func (s *Store) Enqueue(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	now := time.Now().UTC()
	task.Status = StatusQueued
	task.QueuedAt = now
	task.LastUpdated = now
	task.TotalSegments = len(task.Segments)
	task.ProcessedSegments = 0

	segmentsJSON, err := json.Marshal(task.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (
            id, conversation_id, segments_json, total_segments, processed_segments,
            status, retries, queued_at, last_updated
        ) VALUES (?, ?, ?, ?, 0, ?, 0, ?, ?)
        ON CONFLICT (id) DO NOTHING`,
		task.ID,
		task.ConversationID,
		string(segmentsJSON),
		task.TotalSegments,
		StatusQueued,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateTask
	}
	return nil
}

// GetByID fetches a task by identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Update persists changes to an existing task record.
func (s *Store) Update(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	task.LastUpdated = time.Now().UTC()

	errorsJSON, err := marshalErrors(task.Errors)
	if err != nil {
		return err
	}
	resultJSON, resultBytes, err := marshalResult(task.Result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET processed_segments = ?, status = ?, errors_json = ?, retries = ?,
             error_message = ?, processing_started_at = ?, completed_at = ?,
             failed_at = ?, last_updated = ?, expires_at = ?, result_json = ?,
             result_bytes = ?
         WHERE id = ?`,
		task.ProcessedSegments,
		task.Status,
		nullableString(errorsJSON),
		task.Retries,
		nullableString(task.ErrorMessage),
		nullableTime(task.ProcessingStartedAt),
		nullableTime(task.CompletedAt),
		nullableTime(task.FailedAt),
		task.LastUpdated.Format(time.RFC3339Nano),
		nullableTime(task.ExpiresAt),
		nullableString(resultJSON),
		resultBytes,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// List returns tasks filtered by status set (or all tasks when no status is
// provided), ordered by enqueue time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`
	orderClause := ` ORDER BY queued_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Remove deletes a task and its progress projection. Reports whether a task
// row was removed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_progress WHERE task_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete task progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// QueuePosition returns the 1-based position of a queued task, counting
// queued tasks enqueued no later than it.
func (s *Store) QueuePosition(ctx context.Context, id string) (int, error) {
	var position int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM tasks
         WHERE status = ? AND queued_at <= (SELECT queued_at FROM tasks WHERE id = ?)`,
		StatusQueued,
		id,
	).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return position, nil
}

// CountByStatus returns the number of tasks with the given status.
func (s *Store) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return count, nil
}

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates task state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

const taskColumns = "id, conversation_id, segments_json, total_segments, processed_segments, status, errors_json, retries, error_message, queued_at, processing_started_at, completed_at, failed_at, last_updated, expires_at, result_json, result_bytes"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id                string
		conversationID    string
		segmentsJSON      string
		totalSegments     int
		processedSegments int
		statusStr         string
		errorsJSON        sql.NullString
		retries           int
		errorMessage      sql.NullString
		queuedRaw         sql.NullString
		processingRaw     sql.NullString
		completedRaw      sql.NullString
		failedRaw         sql.NullString
		updatedRaw        sql.NullString
		expiresRaw        sql.NullString
		resultJSON        sql.NullString
		resultBytes       []byte
	)

	if err := scanner.Scan(
		&id,
		&conversationID,
		&segmentsJSON,
		&totalSegments,
		&processedSegments,
		&statusStr,
		&errorsJSON,
		&retries,
		&errorMessage,
		&queuedRaw,
		&processingRaw,
		&completedRaw,
		&failedRaw,
		&updatedRaw,
		&expiresRaw,
		&resultJSON,
		&resultBytes,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:                id,
		ConversationID:    conversationID,
		TotalSegments:     totalSegments,
		ProcessedSegments: processedSegments,
		Status:            Status(statusStr),
		Retries:           retries,
		ErrorMessage:      errorMessage.String,
	}

	if segmentsJSON != "" {
		if err := json.Unmarshal([]byte(segmentsJSON), &task.Segments); err != nil {
			return nil, fmt.Errorf("unmarshal segments: %w", err)
		}
	}
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &task.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal task errors: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("unmarshal task result: %w", err)
		}
		result.Bytes = resultBytes
		task.Result = &result
	}

	if queued, err := parseTimeString(queuedRaw.String); err == nil {
		task.QueuedAt = queued
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.LastUpdated = updated
	}
	task.ProcessingStartedAt = parseOptionalTime(processingRaw)
	task.CompletedAt = parseOptionalTime(completedRaw)
	task.FailedAt = parseOptionalTime(failedRaw)
	task.ExpiresAt = parseOptionalTime(expiresRaw)

	return task, nil
}

func marshalErrors(taskErrors []TaskError) (string, error) {
	if len(taskErrors) == 0 {
		return "", nil
	}
	data, err := json.Marshal(taskErrors)
	if err != nil {
		return "", fmt.Errorf("marshal task errors: %w", err)
	}
	return string(data), nil
}

func marshalResult(result *Result) (string, []byte, error) {
	if result == nil {
		return "", nil, nil
	}
	// The payload lives in its own blob column; keep it out of the JSON record.
	record := *result
	record.Bytes = nil
	data, err := json.Marshal(record)
	if err != nil {
		return "", nil, fmt.Errorf("marshal task result: %w", err)
	}
	return string(data), result.Bytes, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseOptionalTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
