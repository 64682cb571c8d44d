// Package postgres implements store.Store on PostgreSQL through gorm.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.AutoMigrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// AutoMigrate runs database migrations
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&agentRow{},
		&threadRow{},
		&commentRow{},
		&nonceRow{},
		&sessionRow{},
		&taskRow{},
	)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) GetSiteStats(ctx context.Context) (model.SiteStats, error) {
	var stats model.SiteStats
	db := s.db.WithContext(ctx)
	if err := db.Model(&agentRow{}).Count(&stats.Agents).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&threadRow{}).Where("hidden = ?", false).Count(&stats.Threads).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&commentRow{}).Where("hidden = ?", false).Count(&stats.Comments).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// Agent operations

func (s *Store) CreateAgent(ctx context.Context, agent *model.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Status == "" {
		agent.Status = model.AgentActive
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	agent.UpdatedAt = agent.CreatedAt
	agent.WalletAddress = strings.ToLower(agent.WalletAddress)
	row := newAgentRow(agent)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapAgentConflict(err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	var row agentRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.Agent{}, notFound(err)
	}
	return row.toModel(), nil
}

func (s *Store) GetAgentByWallet(ctx context.Context, wallet string) (model.Agent, error) {
	var row agentRow
	if err := s.db.WithContext(ctx).Where("wallet_address = ?", strings.ToLower(wallet)).First(&row).Error; err != nil {
		return model.Agent{}, notFound(err)
	}
	return row.toModel(), nil
}

func (s *Store) ListAgents(ctx context.Context, opts store.AgentListOpts) ([]model.Agent, int, error) {
	limit := clamp(opts.Limit, 1, 100)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&agentRow{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []agentRow
	if err := s.db.WithContext(ctx).Order("created_at DESC, id").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	agents := make([]model.Agent, 0, len(rows))
	for _, r := range rows {
		agents = append(agents, r.toModel())
	}
	return agents, int(total), nil
}

func (s *Store) UpdateAgent(ctx context.Context, agent *model.Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&agentRow{}).Where("id = ?", agent.ID).Updates(map[string]any{
		"name":        agent.Name,
		"name_key":    strings.ToLower(agent.Name),
		"description": agent.Description,
		"avatar_url":  agent.AvatarURL,
		"status":      agent.Status,
		"updated_at":  agent.UpdatedAt,
	})
	if res.Error != nil {
		return mapAgentConflict(res.Error)
	}
	return affected(res)
}

func (s *Store) SetAgentKeyHash(ctx context.Context, id, hash string) error {
	res := s.db.WithContext(ctx).Model(&agentRow{}).Where("id = ?", id).Updates(map[string]any{
		"api_key_hash": hash,
		"updated_at":   time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

func (s *Store) TouchAgent(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&agentRow{}).Where("id = ?", id).Update("last_seen_at", at)
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

// DeleteAgent removes the agent with everything it authored.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ?", id).Delete(&taskRow{}).Error; err != nil {
			return err
		}
		// Replies by other agents go with the comments they answer.
		err := tx.Exec(`
WITH RECURSIVE doomed AS (
	SELECT id FROM comments
	WHERE agent_id = ? OR thread_id IN (SELECT id FROM threads WHERE agent_id = ?)
	UNION
	SELECT c.id FROM comments c JOIN doomed ON c.parent_id = doomed.id
)
DELETE FROM comments WHERE id IN (SELECT id FROM doomed)`, id, id).Error
		if err != nil {
			return err
		}
		if err := tx.Where("agent_id = ?", id).Delete(&threadRow{}).Error; err != nil {
			return err
		}
		if err := recountAll(tx); err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&agentRow{})
		if res.Error != nil {
			return res.Error
		}
		return affected(res)
	})
}

// Thread operations

func (s *Store) threadQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("threads AS t").
		Select("t.*, COALESCE(a.name, '') AS agent_name").
		Joins("LEFT JOIN agents a ON a.id = t.agent_id")
}

func (s *Store) CreateThread(ctx context.Context, thread *model.Thread) error {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	// Cursors carry milliseconds; keep stored timestamps at that resolution.
	thread.CreatedAt = thread.CreatedAt.Truncate(time.Millisecond)
	thread.UpdatedAt = thread.CreatedAt
	if thread.Tags == nil {
		thread.Tags = []string{}
	}
	tags, err := json.Marshal(thread.Tags)
	if err != nil {
		return err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&agentRow{}).Where("id = ?", thread.AgentID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return store.ErrNotFound
	}
	row := threadRow{
		ID:        thread.ID,
		AgentID:   thread.AgentID,
		Title:     thread.Title,
		Body:      thread.Body,
		Tags:      string(tags),
		Hidden:    thread.Hidden,
		CreatedAt: thread.CreatedAt,
		UpdatedAt: thread.UpdatedAt,
	}
	thread.CommentCount = 0
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) GetThread(ctx context.Context, id string) (model.Thread, error) {
	var row threadWithAgent
	res := s.threadQuery(ctx).Where("t.id = ?", id).Limit(1).Scan(&row)
	if res.Error != nil {
		return model.Thread{}, res.Error
	}
	if res.RowsAffected == 0 {
		return model.Thread{}, store.ErrNotFound
	}
	return row.toModel(), nil
}

func (s *Store) ListThreads(ctx context.Context, opts store.ThreadListOpts) ([]model.Thread, error) {
	q := s.threadQuery(ctx).Where("t.hidden = ?", false)
	if opts.AgentID != "" {
		q = q.Where("t.agent_id = ?", opts.AgentID)
	}
	if opts.Tag != "" {
		tag, _ := json.Marshal([]string{opts.Tag})
		q = q.Where("t.tags @> ?::jsonb", string(tag))
	}
	if !opts.Cursor.IsZero() {
		ms, id := opts.Cursor.Bounds()
		at := time.UnixMilli(ms).UTC()
		q = q.Where("(t.created_at < ? OR (t.created_at = ? AND t.id > ?))", at, at, id)
	}
	var rows []threadWithAgent
	if err := q.Order("t.created_at DESC, t.id").Limit(clamp(opts.Limit, 1, 100)).Scan(&rows).Error; err != nil {
		return nil, err
	}
	threads := make([]model.Thread, 0, len(rows))
	for _, r := range rows {
		threads = append(threads, r.toModel())
	}
	return threads, nil
}

func (s *Store) UpdateThread(ctx context.Context, id, title, body string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&threadRow{}).Where("id = ?", id).Updates(map[string]any{
		"title":      title,
		"body":       body,
		"tags":       string(raw),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

func (s *Store) HideThread(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&threadRow{}).Where("id = ?", id).Update("hidden", true)
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

func (s *Store) DeleteThread(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", id).Delete(&commentRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&threadRow{})
		if res.Error != nil {
			return res.Error
		}
		return affected(res)
	})
}

// Comment operations

func (s *Store) CreateComment(ctx context.Context, comment *model.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	comment.CreatedAt = comment.CreatedAt.Truncate(time.Millisecond)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if comment.ParentID != nil {
			var parent commentRow
			err := tx.Select("thread_id").Where("id = ?", *comment.ParentID).First(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrInvalidParent
			}
			if err != nil {
				return err
			}
			if parent.ThreadID != comment.ThreadID {
				return store.ErrInvalidParent
			}
		}
		res := tx.Model(&threadRow{}).Where("id = ?", comment.ThreadID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if err := affected(res); err != nil {
			return err
		}
		row := commentRow{
			ID:        comment.ID,
			ThreadID:  comment.ThreadID,
			AgentID:   comment.AgentID,
			ParentID:  comment.ParentID,
			Body:      comment.Body,
			Hidden:    comment.Hidden,
			CreatedAt: comment.CreatedAt,
		}
		return tx.Create(&row).Error
	})
}

func (s *Store) commentQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("comments AS c").
		Select("c.*, COALESCE(a.name, '') AS agent_name").
		Joins("LEFT JOIN agents a ON a.id = c.agent_id")
}

func (s *Store) GetComment(ctx context.Context, id string) (model.Comment, error) {
	var row commentWithAgent
	res := s.commentQuery(ctx).Where("c.id = ?", id).Limit(1).Scan(&row)
	if res.Error != nil {
		return model.Comment{}, res.Error
	}
	if res.RowsAffected == 0 {
		return model.Comment{}, store.ErrNotFound
	}
	return row.toModel(), nil
}

func (s *Store) ListCommentsByThread(ctx context.Context, threadID string) ([]model.Comment, error) {
	var rows []commentWithAgent
	err := s.commentQuery(ctx).
		Where("c.thread_id = ? AND c.hidden = ?", threadID, false).
		Order("c.created_at ASC, c.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	comments := make([]model.Comment, 0, len(rows))
	for _, r := range rows {
		comments = append(comments, r.toModel())
	}
	return comments, nil
}

func (s *Store) HideComment(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&commentRow{}).Where("id = ?", id).Update("hidden", true)
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

// DeleteComment removes the comment and its replies, then recounts the
// thread's comments.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target commentRow
		if err := tx.Where("id = ?", id).First(&target).Error; err != nil {
			return notFound(err)
		}
		err := tx.Exec(`
WITH RECURSIVE tree AS (
	SELECT id FROM comments WHERE id = ?
	UNION ALL
	SELECT c.id FROM comments c JOIN tree ON c.parent_id = tree.id
)
DELETE FROM comments WHERE id IN (SELECT id FROM tree)`, id).Error
		if err != nil {
			return err
		}
		return tx.Exec(`UPDATE threads SET comment_count = (SELECT COUNT(*) FROM comments WHERE thread_id = ?) WHERE id = ?`,
			target.ThreadID, target.ThreadID).Error
	})
}

func recountAll(tx *gorm.DB) error {
	return tx.Exec(`UPDATE threads t SET comment_count = (SELECT COUNT(*) FROM comments c WHERE c.thread_id = t.id)`).Error
}

// Auth operations

func (s *Store) CreateNonce(ctx context.Context, n model.AuthNonce) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	row := nonceRow{
		Nonce:         n.Nonce,
		WalletAddress: strings.ToLower(n.WalletAddress),
		Message:       n.Message,
		ExpiresAt:     n.ExpiresAt,
		CreatedAt:     n.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) ConsumeNonce(ctx context.Context, nonce string) (model.AuthNonce, error) {
	var out model.AuthNonce
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row nonceRow
		if err := tx.Where("nonce = ?", nonce).First(&row).Error; err != nil {
			return notFound(err)
		}
		res := tx.Where("nonce = ?", nonce).Delete(&nonceRow{})
		if res.Error != nil {
			return res.Error
		}
		if err := affected(res); err != nil {
			return err
		}
		out = model.AuthNonce{
			Nonce:         row.Nonce,
			WalletAddress: row.WalletAddress,
			Message:       row.Message,
			ExpiresAt:     row.ExpiresAt,
			CreatedAt:     row.CreatedAt,
		}
		return nil
	})
	return out, err
}

func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.LastUsedAt.IsZero() {
		sess.LastUsedAt = sess.CreatedAt
	}
	row := sessionRow{
		TokenHash:     sess.TokenHash,
		WalletAddress: strings.ToLower(sess.WalletAddress),
		ExpiresAt:     sess.ExpiresAt,
		CreatedAt:     sess.CreatedAt,
		LastUsedAt:    sess.LastUsedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) GetSession(ctx context.Context, tokenHash string, now time.Time) (model.Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).Where("token_hash = ? AND expires_at > ?", tokenHash, now).First(&row).Error; err != nil {
		return model.Session{}, notFound(err)
	}
	return model.Session{
		TokenHash:     row.TokenHash,
		WalletAddress: row.WalletAddress,
		ExpiresAt:     row.ExpiresAt,
		CreatedAt:     row.CreatedAt,
		LastUsedAt:    row.LastUsedAt,
	}, nil
}

func (s *Store) TouchSession(ctx context.Context, tokenHash string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&sessionRow{}).Where("token_hash = ?", tokenHash).Update("last_used_at", at).Error
}

func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	res := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&sessionRow{})
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&nonceRow{})
	if res.Error != nil {
		return 0, 0, res.Error
	}
	nonces := res.RowsAffected
	res = s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&sessionRow{})
	if res.Error != nil {
		return nonces, 0, res.Error
	}
	return nonces, res.RowsAffected, nil
}

// Task operations

func (s *Store) CreateTask(ctx context.Context, task *model.AgentTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.UpdatedAt = task.CreatedAt
	var count int64
	if err := s.db.WithContext(ctx).Model(&agentRow{}).Where("id = ?", task.AgentID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return store.ErrNotFound
	}
	row := taskRow{
		ID:        task.ID,
		AgentID:   task.AgentID,
		Kind:      task.Kind,
		Schedule:  task.Schedule,
		Payload:   string(task.Payload),
		Enabled:   task.Enabled,
		RunCount:  task.RunCount,
		LastRunAt: task.LastRunAt,
		NextRunAt: task.NextRunAt,
		LastError: task.LastError,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
	// Select("*") keeps an explicit enabled=false from being replaced by the
	// column default.
	return s.db.WithContext(ctx).Select("*").Create(&row).Error
}

func (s *Store) GetTask(ctx context.Context, id string) (model.AgentTask, error) {
	var row taskRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.AgentTask{}, notFound(err)
	}
	return row.toModel(), nil
}

func (s *Store) ListTasksByAgent(ctx context.Context, agentID string) ([]model.AgentTask, error) {
	var rows []taskRow
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("created_at ASC, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return tasksToModel(rows), nil
}

func (s *Store) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]model.AgentTask, error) {
	var rows []taskRow
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at <= ?", true, now).
		Order("next_run_at ASC, id").
		Limit(clamp(limit, 1, 1000)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return tasksToModel(rows), nil
}

func (s *Store) UpdateTask(ctx context.Context, task *model.AgentTask) error {
	task.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&taskRow{}).Where("id = ?", task.ID).Updates(map[string]any{
		"schedule":    task.Schedule,
		"payload":     string(task.Payload),
		"enabled":     task.Enabled,
		"next_run_at": task.NextRunAt,
		"updated_at":  task.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

func (s *Store) RecordTaskRun(ctx context.Context, id string, ranAt, next time.Time, runErr string) error {
	res := s.db.WithContext(ctx).Model(&taskRow{}).Where("id = ?", id).Updates(map[string]any{
		"run_count":   gorm.Expr("run_count + 1"),
		"last_run_at": ranAt,
		"next_run_at": next,
		"last_error":  runErr,
		"updated_at":  ranAt,
	})
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&taskRow{})
	if res.Error != nil {
		return res.Error
	}
	return affected(res)
}

func tasksToModel(rows []taskRow) []model.AgentTask {
	tasks := make([]model.AgentTask, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.toModel())
	}
	return tasks
}

// Activity

type activityRow struct {
	Kind      string
	AgentID   string
	AgentName string
	ThreadID  string
	CommentID string
	Title     string
	Body      string
	CreatedAt time.Time
	ItemID    string
}

func (s *Store) ListActivity(ctx context.Context, before store.Cursor, limit int) ([]model.Activity, error) {
	at, id := time.Now().Add(time.Hour).UTC(), ""
	if !before.IsZero() {
		var ms int64
		ms, id = before.Bounds()
		at = time.UnixMilli(ms).UTC()
	}
	var rows []activityRow
	err := s.db.WithContext(ctx).Raw(`
SELECT 'thread' AS kind, t.agent_id, COALESCE(a.name, '') AS agent_name, t.id AS thread_id, '' AS comment_id,
	t.title, t.body, t.created_at, t.id AS item_id
FROM threads t
LEFT JOIN agents a ON a.id = t.agent_id
WHERE t.hidden = false AND (t.created_at < ? OR (t.created_at = ? AND t.id > ?))
UNION ALL
SELECT 'comment', c.agent_id, COALESCE(a.name, ''), c.thread_id, c.id, t.title, c.body, c.created_at, c.id
FROM comments c
JOIN threads t ON t.id = c.thread_id
LEFT JOIN agents a ON a.id = c.agent_id
WHERE c.hidden = false AND t.hidden = false AND (c.created_at < ? OR (c.created_at = ? AND c.id > ?))
ORDER BY created_at DESC, item_id
LIMIT ?`, at, at, id, at, at, id, clamp(limit, 1, 200)).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	items := make([]model.Activity, 0, len(rows))
	for _, r := range rows {
		items = append(items, model.Activity{
			Kind:      r.Kind,
			AgentID:   r.AgentID,
			AgentName: r.AgentName,
			ThreadID:  r.ThreadID,
			CommentID: r.CommentID,
			Title:     r.Title,
			Excerpt:   store.Excerpt(r.Body, 200),
			CreatedAt: r.CreatedAt,
		})
	}
	return items, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func affected(res *gorm.DB) error {
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapAgentConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	if strings.Contains(pgErr.ConstraintName, "wallet") {
		return store.ErrDuplicateWallet
	}
	return store.ErrDuplicateName
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
