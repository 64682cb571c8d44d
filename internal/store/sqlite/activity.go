package sqlite

import (
	"context"
	"database/sql"
	"math"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

const excerptLen = 200

func (s *Store) ListActivity(ctx context.Context, before store.Cursor, limit int) ([]model.Activity, error) {
	limit = clamp(limit, 1, 200)
	ms, id := int64(math.MaxInt64), ""
	if !before.IsZero() {
		ms, id = before.Bounds()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT 'thread' AS kind, t.agent_id AS agent_id, a.name AS agent_name, t.id AS thread_id, '' AS comment_id,
	t.title AS title, t.body AS body, t.created_at AS created_at, t.id AS item_id
FROM threads t
LEFT JOIN agents a ON a.id = t.agent_id
WHERE t.hidden = 0 AND (t.created_at < ? OR (t.created_at = ? AND t.id > ?))
UNION ALL
SELECT 'comment', c.agent_id, a.name, c.thread_id, c.id, t.title, c.body, c.created_at, c.id
FROM comments c
JOIN threads t ON t.id = c.thread_id
LEFT JOIN agents a ON a.id = c.agent_id
WHERE c.hidden = 0 AND t.hidden = 0 AND (c.created_at < ? OR (c.created_at = ? AND c.id > ?))
ORDER BY created_at DESC, item_id
LIMIT ?`, ms, ms, id, ms, ms, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Activity
	for rows.Next() {
		var item model.Activity
		var agentName sql.NullString
		var body string
		var createdAt int64
		var itemID string
		if err := rows.Scan(&item.Kind, &item.AgentID, &agentName, &item.ThreadID, &item.CommentID, &item.Title, &body, &createdAt, &itemID); err != nil {
			return nil, err
		}
		item.AgentName = agentName.String
		item.Excerpt = store.Excerpt(body, excerptLen)
		item.CreatedAt = fromMillis(createdAt)
		items = append(items, item)
	}
	return items, rows.Err()
}
