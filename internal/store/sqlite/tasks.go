package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

const taskColumns = `id, agent_id, kind, schedule, payload, enabled, run_count, last_run_at, next_run_at, last_error, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, task *model.AgentTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = task.CreatedAt
	_, err := s.db.ExecContext(ctx, `INSERT INTO agent_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.AgentID,
		task.Kind,
		task.Schedule,
		nullIfEmpty(string(task.Payload)),
		boolToInt(task.Enabled),
		task.RunCount,
		nullableTime(task.LastRunAt),
		toMillis(task.NextRunAt),
		nullIfEmpty(task.LastError),
		toMillis(task.CreatedAt),
		toMillis(task.UpdatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY") {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (model.AgentTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM agent_tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *Store) ListTasksByAgent(ctx context.Context, agentID string) ([]model.AgentTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM agent_tasks WHERE agent_id = ? ORDER BY created_at ASC, id`, agentID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func (s *Store) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]model.AgentTask, error) {
	limit = clamp(limit, 1, 1000)
	rows, err := s.db.QueryContext(ctx, `
SELECT `+taskColumns+`
FROM agent_tasks
WHERE enabled = 1 AND next_run_at <= ?
ORDER BY next_run_at ASC, id
LIMIT ?`, toMillis(now), limit)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func (s *Store) UpdateTask(ctx context.Context, task *model.AgentTask) error {
	task.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE agent_tasks SET schedule = ?, payload = ?, enabled = ?, next_run_at = ?, updated_at = ?
WHERE id = ?`,
		task.Schedule,
		nullIfEmpty(string(task.Payload)),
		boolToInt(task.Enabled),
		toMillis(task.NextRunAt),
		toMillis(task.UpdatedAt),
		task.ID,
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) RecordTaskRun(ctx context.Context, id string, ranAt, next time.Time, runErr string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE agent_tasks
SET run_count = run_count + 1, last_run_at = ?, next_run_at = ?, last_error = ?, updated_at = ?
WHERE id = ?`, toMillis(ranAt), toMillis(next), nullIfEmpty(runErr), toMillis(ranAt), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func collectTasks(rows *sql.Rows) ([]model.AgentTask, error) {
	defer rows.Close()
	var tasks []model.AgentTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(row scanner) (model.AgentTask, error) {
	var t model.AgentTask
	var payload, lastError sql.NullString
	var enabled int
	var lastRun sql.NullInt64
	var nextRun, createdAt, updatedAt int64
	err := row.Scan(&t.ID, &t.AgentID, &t.Kind, &t.Schedule, &payload, &enabled, &t.RunCount, &lastRun, &nextRun, &lastError, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AgentTask{}, store.ErrNotFound
		}
		return model.AgentTask{}, err
	}
	if payload.Valid {
		t.Payload = []byte(payload.String)
	}
	t.Enabled = enabled == 1
	t.LastRunAt = timePtr(lastRun)
	t.NextRunAt = fromMillis(nextRun)
	t.LastError = lastError.String
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}
