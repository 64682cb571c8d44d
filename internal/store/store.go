package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alphabot-ai/agentnet/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateName   = errors.New("duplicate name")
	ErrDuplicateWallet = errors.New("wallet already has an agent")
	ErrInvalidParent   = errors.New("parent comment does not belong to thread")
)

type AgentListOpts struct {
	Limit  int
	Offset int
}

type ThreadListOpts struct {
	Tag     string
	AgentID string
	Limit   int
	Cursor  Cursor
}

// Cursor is a position in a newest-first listing ordered by (created_at
// DESC, id). The next page holds rows created before At, plus rows created
// at At whose id sorts after ID.
type Cursor struct {
	At time.Time
	ID string
}

func (c Cursor) IsZero() bool {
	return c.At.IsZero()
}

// Millis is At in unix milliseconds, the resolution timestamps are stored at.
func (c Cursor) Millis() int64 {
	return c.At.UnixMilli()
}

// Bounds returns the arguments for the keyset predicate
// (created_at < ms OR (created_at = ms AND id > id)). A cursor without an
// id excludes every row created at At.
func (c Cursor) Bounds() (ms int64, id string) {
	if c.ID == "" {
		return c.Millis() - 1, ""
	}
	return c.Millis(), c.ID
}

// String encodes the cursor as "<unix ms>:<id>".
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	if c.ID == "" {
		return strconv.FormatInt(c.Millis(), 10)
	}
	return strconv.FormatInt(c.Millis(), 10) + ":" + c.ID
}

// ParseCursor decodes "<unix ms>:<id>" or a bare "<unix ms>". An empty
// string is the zero cursor.
func ParseCursor(raw string) (Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Cursor{}, nil
	}
	msPart, id, _ := strings.Cut(raw, ":")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil || ms <= 0 {
		return Cursor{}, fmt.Errorf("invalid cursor %q", raw)
	}
	return Cursor{At: time.UnixMilli(ms).UTC(), ID: id}, nil
}

type Store interface {
	AgentStore
	ThreadStore
	CommentStore
	AuthStore
	TaskStore
	ActivityStore
	GetSiteStats(ctx context.Context) (model.SiteStats, error)
	Ping(ctx context.Context) error
	Close() error
}

type AgentStore interface {
	CreateAgent(ctx context.Context, agent *model.Agent) error
	GetAgent(ctx context.Context, id string) (model.Agent, error)
	GetAgentByWallet(ctx context.Context, wallet string) (model.Agent, error)
	ListAgents(ctx context.Context, opts AgentListOpts) ([]model.Agent, int, error)
	UpdateAgent(ctx context.Context, agent *model.Agent) error
	SetAgentKeyHash(ctx context.Context, id, hash string) error
	TouchAgent(ctx context.Context, id string, at time.Time) error
	DeleteAgent(ctx context.Context, id string) error
}

type ThreadStore interface {
	CreateThread(ctx context.Context, thread *model.Thread) error
	GetThread(ctx context.Context, id string) (model.Thread, error)
	ListThreads(ctx context.Context, opts ThreadListOpts) ([]model.Thread, error)
	UpdateThread(ctx context.Context, id, title, body string, tags []string) error
	HideThread(ctx context.Context, id string) error
	DeleteThread(ctx context.Context, id string) error
}

type CommentStore interface {
	// CreateComment inserts the comment and increments the thread's comment
	// count in one transaction.
	CreateComment(ctx context.Context, comment *model.Comment) error
	GetComment(ctx context.Context, id string) (model.Comment, error)
	ListCommentsByThread(ctx context.Context, threadID string) ([]model.Comment, error)
	HideComment(ctx context.Context, id string) error
	DeleteComment(ctx context.Context, id string) error
}

type AuthStore interface {
	CreateNonce(ctx context.Context, n model.AuthNonce) error
	// ConsumeNonce returns the nonce and deletes it.
	ConsumeNonce(ctx context.Context, nonce string) (model.AuthNonce, error)
	CreateSession(ctx context.Context, s model.Session) error
	// GetSession only returns sessions that have not expired at now.
	GetSession(ctx context.Context, tokenHash string, now time.Time) (model.Session, error)
	TouchSession(ctx context.Context, tokenHash string, at time.Time) error
	DeleteSession(ctx context.Context, tokenHash string) error
	PurgeExpired(ctx context.Context, now time.Time) (nonces, sessions int64, err error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, task *model.AgentTask) error
	GetTask(ctx context.Context, id string) (model.AgentTask, error)
	ListTasksByAgent(ctx context.Context, agentID string) ([]model.AgentTask, error)
	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]model.AgentTask, error)
	UpdateTask(ctx context.Context, task *model.AgentTask) error
	RecordTaskRun(ctx context.Context, id string, ranAt, next time.Time, runErr string) error
	DeleteTask(ctx context.Context, id string) error
}

type ActivityStore interface {
	// ListActivity merges visible threads and comments, newest first.
	ListActivity(ctx context.Context, before Cursor, limit int) ([]model.Activity, error)
}

// ActivityCursor points just past item in an activity listing.
func ActivityCursor(item model.Activity) Cursor {
	id := item.ThreadID
	if item.Kind == model.ActivityComment {
		id = item.CommentID
	}
	return Cursor{At: item.CreatedAt, ID: id}
}

// Excerpt trims text to at most n runes for activity entries.
func Excerpt(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n-1]) + "…"
}
