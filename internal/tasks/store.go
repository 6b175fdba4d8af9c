package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"resonate/internal/config"
	"resonate/internal/services"
)

// Store manages task persistence backed by SQLite. The database is the
// single source of truth for task state; all status writes go through
// Transition, which enforces the state machine's guard.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the task database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "tasks.db")
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

// Path returns the task database file location.
func (s *Store) Path() string {
	return s.path
}

// NewTaskParams describes a task creation request.
type NewTaskParams struct {
	OwnerID       string
	SourceURL     string
	TargetVoiceID string
	PitchShift    *float64
	WebhookURL    string
}

// Create inserts a new conversion task in draft status.
func (s *Store) Create(ctx context.Context, params NewTaskParams) (*Task, error) {
	if strings.TrimSpace(params.OwnerID) == "" {
		return nil, errors.New("owner id is required")
	}
	if strings.TrimSpace(params.SourceURL) == "" {
		return nil, errors.New("source url is required")
	}
	if strings.TrimSpace(params.TargetVoiceID) == "" {
		return nil, errors.New("target voice id is required")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO tasks (
            id, owner_id, source_url, target_voice_id, pitch_shift,
            status, webhook_url, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		params.OwnerID,
		params.SourceURL,
		params.TargetVoiceID,
		nullableFloat(params.PitchShift),
		StatusDraft,
		nullableString(params.WebhookURL),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a task by identifier. A missing task yields (nil, nil).
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

// List returns tasks filtered by status set (or all tasks when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`
	orderClause := ` ORDER BY created_at`

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

	var items []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, task)
	}
	return items, rows.Err()
}

// ListByOwner returns tasks belonging to an owner ordered by creation time.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? ORDER BY created_at`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by owner: %w", err)
	}
	defer rows.Close()

	var items []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, task)
	}
	return items, rows.Err()
}

// StuckProcessing returns tasks waiting on a provider callback whose last
// update is older than the cutoff. These are the sweep candidates.
func (s *Store) StuckProcessing(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		StatusProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query stuck tasks: %w", err)
	}
	defer rows.Close()

	var items []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, task)
	}
	return items, rows.Err()
}

// StuckPreDispatch returns tasks abandoned before provider submission
// (daemon crash mid-pipeline) whose last update is older than the cutoff.
func (s *Store) StuckPreDispatch(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks
         WHERE status IN (?, ?, ?, ?) AND updated_at < ?
         ORDER BY updated_at`,
		StatusDraft,
		StatusInit,
		StatusPitchAnalysis,
		StatusDispatched,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query pre-dispatch stuck tasks: %w", err)
	}
	defer rows.Close()

	var items []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, task)
	}
	return items, rows.Err()
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
		case StatusDraft:
			health.Draft += count
		case StatusCompleted:
			health.Completed += count
		case StatusError, StatusNoSpeech:
			health.Failed += count
		default:
			health.Processing += count
		}
	}
	return health, nil
}

// Retry moves a failed task back to draft for reprocessing, clearing the
// provider handle and failure fields. Completed tasks are never retried.
func (s *Store) Retry(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET status = ?, provider = NULL, provider_job_id = NULL,
             output_url = NULL, error_message = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusDraft,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusError,
		StatusNoSpeech,
	)
	if err != nil {
		return false, fmt.Errorf("retry task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MergeCostMetadata appends fields into the task's cost metadata without
// replacing existing keys wholesale. Writes to terminal tasks are rejected.
func (s *Store) MergeCostMetadata(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return services.Wrap(services.ErrNotFound, "tasks", "merge cost metadata", id, nil)
	}
	if task.Status.IsTerminal() {
		return services.Wrap(services.ErrInvalidTransition, "tasks", "merge cost metadata", "task is terminal", nil)
	}

	merged := make(map[string]any, len(task.CostMetadata)+len(fields))
	for k, v := range task.CostMetadata {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal cost metadata: %w", err)
	}

	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE tasks SET cost_metadata = ?, updated_at = ? WHERE id = ?`,
		string(encoded),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update cost metadata: %w", err)
	}
	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	_, err := s.execWithRetry(ctx, query, args...)
	return err
}

const taskColumns = "id, owner_id, source_url, target_voice_id, pitch_shift, status, provider, provider_job_id, output_url, error_message, cost_metadata, webhook_url, created_at, updated_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id            string
		ownerID       string
		sourceURL     string
		targetVoiceID string
		pitchShift    sql.NullFloat64
		statusStr     string
		provider      sql.NullString
		providerJobID sql.NullString
		outputURL     sql.NullString
		errorMessage  sql.NullString
		costMetadata  sql.NullString
		webhookURL    sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&ownerID,
		&sourceURL,
		&targetVoiceID,
		&pitchShift,
		&statusStr,
		&provider,
		&providerJobID,
		&outputURL,
		&errorMessage,
		&costMetadata,
		&webhookURL,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:            id,
		OwnerID:       ownerID,
		SourceURL:     sourceURL,
		TargetVoiceID: targetVoiceID,
		Status:        Status(statusStr),
		Provider:      provider.String,
		ProviderJobID: providerJobID.String,
		OutputURL:     outputURL.String,
		ErrorMessage:  errorMessage.String,
		WebhookURL:    webhookURL.String,
	}
	if pitchShift.Valid {
		v := pitchShift.Float64
		task.PitchShift = &v
	}
	if costMetadata.Valid && costMetadata.String != "" {
		meta := make(map[string]any)
		if err := json.Unmarshal([]byte(costMetadata.String), &meta); err != nil {
			return nil, fmt.Errorf("decode cost metadata: %w", err)
		}
		task.CostMetadata = meta
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
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
