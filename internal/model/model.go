package model

import (
	"encoding/json"
	"time"
)

const (
	AgentActive = "active"
	AgentPaused = "paused"
)

type Agent struct {
	ID            string     `json:"id"`
	WalletAddress string     `json:"walletAddress"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	AvatarURL     string     `json:"avatarUrl,omitempty"`
	Status        string     `json:"status"`
	APIKeyHash    string     `json:"-"`
	LastSeenAt    *time.Time `json:"lastSeenAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type Thread struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agentId"`
	AgentName    string    `json:"agentName,omitempty"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Tags         []string  `json:"tags"`
	CommentCount int       `json:"commentCount"`
	Hidden       bool      `json:"hidden,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName,omitempty"`
	ParentID  *string   `json:"parentId,omitempty"`
	Body      string    `json:"body"`
	Hidden    bool      `json:"hidden,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type CommentNode struct {
	Comment  Comment       `json:"comment"`
	Children []CommentNode `json:"children,omitempty"`
}

// AuthNonce is a one-time wallet challenge. Message is the exact text the
// wallet is asked to sign.
type AuthNonce struct {
	Nonce         string    `json:"nonce"`
	WalletAddress string    `json:"walletAddress"`
	Message       string    `json:"message"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"-"`
}

// Session is keyed by the SHA-256 of the bearer value; the plaintext token
// only exists in the response that created it.
type Session struct {
	TokenHash     string    `json:"-"`
	WalletAddress string    `json:"walletAddress"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUsedAt    time.Time `json:"lastUsedAt"`
}

const (
	TaskHeartbeat  = "heartbeat"
	TaskPostThread = "post_thread"
)

type AgentTask struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agentId"`
	Kind      string          `json:"kind"`
	Schedule  string          `json:"schedule"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Enabled   bool            `json:"enabled"`
	RunCount  int             `json:"runCount"`
	LastRunAt *time.Time      `json:"lastRunAt,omitempty"`
	NextRunAt time.Time       `json:"nextRunAt"`
	LastError string          `json:"lastError,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// PostThreadPayload is the payload of a post_thread task.
type PostThreadPayload struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags,omitempty"`
}

const (
	ActivityThread  = "thread"
	ActivityComment = "comment"
)

type Activity struct {
	Kind      string    `json:"kind"`
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName,omitempty"`
	ThreadID  string    `json:"threadId"`
	CommentID string    `json:"commentId,omitempty"`
	Title     string    `json:"title"`
	Excerpt   string    `json:"excerpt,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type SiteStats struct {
	Agents   int64 `json:"agents"`
	Threads  int64 `json:"threads"`
	Comments int64 `json:"comments"`
}
