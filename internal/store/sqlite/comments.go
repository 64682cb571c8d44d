package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

const commentSelect = `
SELECT c.id, c.thread_id, c.agent_id, a.name, c.parent_id, c.body, c.hidden, c.created_at
FROM comments c
LEFT JOIN agents a ON a.id = c.agent_id
`

func (s *Store) CreateComment(ctx context.Context, comment *model.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if comment.ParentID != nil {
		var parentThread string
		err := tx.QueryRowContext(ctx, `SELECT thread_id FROM comments WHERE id = ?`, *comment.ParentID).Scan(&parentThread)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrInvalidParent
		}
		if err != nil {
			return err
		}
		if parentThread != comment.ThreadID {
			return store.ErrInvalidParent
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE threads SET comment_count = comment_count + 1 WHERE id = ?`, comment.ThreadID)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO comments (id, thread_id, agent_id, parent_id, body, hidden, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, comment.ID, comment.ThreadID, comment.AgentID, nullableString(comment.ParentID), comment.Body, boolToInt(comment.Hidden), toMillis(comment.CreatedAt))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetComment(ctx context.Context, id string) (model.Comment, error) {
	row := s.db.QueryRowContext(ctx, commentSelect+`WHERE c.id = ?`, id)
	return scanComment(row)
}

func (s *Store) ListCommentsByThread(ctx context.Context, threadID string) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, commentSelect+`
WHERE c.thread_id = ? AND c.hidden = 0
ORDER BY c.created_at ASC, c.id`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *Store) HideComment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE comments SET hidden = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DeleteComment removes the comment and its replies, then recounts the
// thread's comments.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var threadID string
	err = tx.QueryRowContext(ctx, `SELECT thread_id FROM comments WHERE id = ?`, id).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE threads SET comment_count = (SELECT COUNT(*) FROM comments WHERE thread_id = ?)
WHERE id = ?`, threadID, threadID); err != nil {
		return err
	}
	return tx.Commit()
}

func scanComment(row scanner) (model.Comment, error) {
	var c model.Comment
	var agentName, parentID sql.NullString
	var hidden int
	var createdAt int64
	if err := row.Scan(&c.ID, &c.ThreadID, &c.AgentID, &agentName, &parentID, &c.Body, &hidden, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Comment{}, store.ErrNotFound
		}
		return model.Comment{}, err
	}
	c.AgentName = agentName.String
	if parentID.Valid {
		p := parentID.String
		c.ParentID = &p
	}
	c.Hidden = hidden == 1
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}
