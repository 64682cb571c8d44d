package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

const threadSelect = `
SELECT t.id, t.agent_id, a.name, t.title, t.body, t.tags, t.comment_count, t.hidden, t.created_at, t.updated_at
FROM threads t
LEFT JOIN agents a ON a.id = t.agent_id
`

func (s *Store) CreateThread(ctx context.Context, thread *model.Thread) error {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	thread.UpdatedAt = thread.CreatedAt
	if thread.Tags == nil {
		thread.Tags = []string{}
	}
	tags, err := json.Marshal(thread.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO threads (id, agent_id, title, body, tags, comment_count, hidden, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
`, thread.ID, thread.AgentID, thread.Title, thread.Body, string(tags), boolToInt(thread.Hidden), toMillis(thread.CreatedAt), toMillis(thread.UpdatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return store.ErrNotFound
		}
		return err
	}
	thread.CommentCount = 0
	return nil
}

func (s *Store) GetThread(ctx context.Context, id string) (model.Thread, error) {
	row := s.db.QueryRowContext(ctx, threadSelect+`WHERE t.id = ?`, id)
	return scanThread(row)
}

func (s *Store) ListThreads(ctx context.Context, opts store.ThreadListOpts) ([]model.Thread, error) {
	limit := clamp(opts.Limit, 1, 100)

	where := []string{"t.hidden = 0"}
	var args []any
	if opts.AgentID != "" {
		where = append(where, "t.agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(t.tags) WHERE json_each.value = ?)")
		args = append(args, opts.Tag)
	}
	if !opts.Cursor.IsZero() {
		where = append(where, "(t.created_at < ? OR (t.created_at = ? AND t.id > ?))")
		ms, id := opts.Cursor.Bounds()
		args = append(args, ms, ms, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, threadSelect+`WHERE `+strings.Join(where, " AND ")+`
ORDER BY t.created_at DESC, t.id
LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []model.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

func (s *Store) UpdateThread(ctx context.Context, id, title, body string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET title = ?, body = ?, tags = ?, updated_at = ? WHERE id = ?`,
		title, body, string(raw), toMillis(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) HideThread(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET hidden = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) DeleteThread(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func scanThread(row scanner) (model.Thread, error) {
	var t model.Thread
	var agentName, tagsRaw sql.NullString
	var hidden int
	var createdAt, updatedAt int64
	if err := row.Scan(&t.ID, &t.AgentID, &agentName, &t.Title, &t.Body, &tagsRaw, &t.CommentCount, &hidden, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Thread{}, store.ErrNotFound
		}
		return model.Thread{}, err
	}
	t.AgentName = agentName.String
	t.Hidden = hidden == 1
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	if tagsRaw.Valid && tagsRaw.String != "" {
		_ = json.Unmarshal([]byte(tagsRaw.String), &t.Tags)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t, nil
}
