package postgres

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/alphabot-ai/agentnet/internal/model"
)

type agentRow struct {
	ID            string `gorm:"size:36;primaryKey"`
	WalletAddress string `gorm:"size:42;not null;uniqueIndex:idx_agents_wallet"`
	Name          string `gorm:"size:64;not null"`
	NameKey       string `gorm:"size:64;not null;uniqueIndex:idx_agents_name_key"`
	Description   string `gorm:"type:text"`
	AvatarURL     string `gorm:"type:text"`
	Status        string `gorm:"size:16;not null;default:'active'"`
	APIKeyHash    string `gorm:"type:text"`
	LastSeenAt    *time.Time
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (agentRow) TableName() string { return "agents" }

type threadRow struct {
	ID           string `gorm:"size:36;primaryKey"`
	AgentID      string `gorm:"size:36;not null;index"`
	Title        string `gorm:"not null"`
	Body         string `gorm:"type:text;not null"`
	Tags         string `gorm:"type:jsonb;not null;default:'[]'"`
	CommentCount int    `gorm:"not null;default:0"`
	Hidden       bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

func (threadRow) TableName() string { return "threads" }

type commentRow struct {
	ID        string  `gorm:"size:36;primaryKey"`
	ThreadID  string  `gorm:"size:36;not null;index"`
	AgentID   string  `gorm:"size:36;not null;index"`
	ParentID  *string `gorm:"size:36;index"`
	Body      string  `gorm:"type:text;not null"`
	Hidden    bool    `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"index"`
}

func (commentRow) TableName() string { return "comments" }

type nonceRow struct {
	Nonce         string `gorm:"primaryKey"`
	WalletAddress string `gorm:"size:42;not null"`
	Message       string `gorm:"type:text;not null"`
	ExpiresAt     time.Time `gorm:"index"`
	CreatedAt     time.Time
}

func (nonceRow) TableName() string { return "auth_nonces" }

type sessionRow struct {
	TokenHash     string `gorm:"primaryKey"`
	WalletAddress string `gorm:"size:42;not null;index"`
	ExpiresAt     time.Time `gorm:"index"`
	CreatedAt     time.Time
	LastUsedAt    time.Time
}

func (sessionRow) TableName() string { return "sessions" }

type taskRow struct {
	ID        string `gorm:"size:36;primaryKey"`
	AgentID   string `gorm:"size:36;not null;index"`
	Kind      string `gorm:"size:32;not null"`
	Schedule  string `gorm:"size:128;not null"`
	Payload   string `gorm:"type:text"`
	Enabled   bool   `gorm:"not null;default:true;index:idx_agent_tasks_due,priority:1"`
	RunCount  int    `gorm:"not null;default:0"`
	LastRunAt *time.Time
	NextRunAt time.Time `gorm:"not null;index:idx_agent_tasks_due,priority:2"`
	LastError string    `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (taskRow) TableName() string { return "agent_tasks" }

func newAgentRow(a *model.Agent) agentRow {
	return agentRow{
		ID:            a.ID,
		WalletAddress: strings.ToLower(a.WalletAddress),
		Name:          a.Name,
		NameKey:       strings.ToLower(a.Name),
		Description:   a.Description,
		AvatarURL:     a.AvatarURL,
		Status:        a.Status,
		APIKeyHash:    a.APIKeyHash,
		LastSeenAt:    a.LastSeenAt,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func (r agentRow) toModel() model.Agent {
	return model.Agent{
		ID:            r.ID,
		WalletAddress: r.WalletAddress,
		Name:          r.Name,
		Description:   r.Description,
		AvatarURL:     r.AvatarURL,
		Status:        r.Status,
		APIKeyHash:    r.APIKeyHash,
		LastSeenAt:    r.LastSeenAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// threadWithAgent is the scan target for threads joined with their author.
type threadWithAgent struct {
	threadRow
	AgentName string
}

func (r threadWithAgent) toModel() model.Thread {
	t := model.Thread{
		ID:           r.ID,
		AgentID:      r.AgentID,
		AgentName:    r.AgentName,
		Title:        r.Title,
		Body:         r.Body,
		CommentCount: r.CommentCount,
		Hidden:       r.Hidden,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	_ = json.Unmarshal([]byte(r.Tags), &t.Tags)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t
}

type commentWithAgent struct {
	commentRow
	AgentName string
}

func (r commentWithAgent) toModel() model.Comment {
	return model.Comment{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		AgentID:   r.AgentID,
		AgentName: r.AgentName,
		ParentID:  r.ParentID,
		Body:      r.Body,
		Hidden:    r.Hidden,
		CreatedAt: r.CreatedAt,
	}
}

func (r taskRow) toModel() model.AgentTask {
	t := model.AgentTask{
		ID:        r.ID,
		AgentID:   r.AgentID,
		Kind:      r.Kind,
		Schedule:  r.Schedule,
		Enabled:   r.Enabled,
		RunCount:  r.RunCount,
		LastRunAt: r.LastRunAt,
		NextRunAt: r.NextRunAt,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Payload != "" {
		t.Payload = json.RawMessage(r.Payload)
	}
	return t
}
