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

const agentColumns = `id, wallet_address, name, description, avatar_url, status, api_key_hash, last_seen_at, created_at, updated_at`

func (s *Store) CreateAgent(ctx context.Context, agent *model.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Status == "" {
		agent.Status = model.AgentActive
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = agent.CreatedAt
	agent.WalletAddress = strings.ToLower(agent.WalletAddress)

	_, err := s.db.ExecContext(ctx, `INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID,
		agent.WalletAddress,
		agent.Name,
		nullIfEmpty(agent.Description),
		nullIfEmpty(agent.AvatarURL),
		agent.Status,
		nullIfEmpty(agent.APIKeyHash),
		nullableTime(agent.LastSeenAt),
		toMillis(agent.CreatedAt),
		toMillis(agent.UpdatedAt),
	)
	if err != nil {
		return mapAgentConflict(err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

func (s *Store) GetAgentByWallet(ctx context.Context, wallet string) (model.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE wallet_address = ?`, strings.ToLower(wallet))
	return scanAgent(row)
}

func (s *Store) ListAgents(ctx context.Context, opts store.AgentListOpts) ([]model.Agent, int, error) {
	limit := clamp(opts.Limit, 1, 100)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, 0, err
		}
		agents = append(agents, agent)
	}
	return agents, total, rows.Err()
}

func (s *Store) UpdateAgent(ctx context.Context, agent *model.Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET name = ?, description = ?, avatar_url = ?, status = ?, updated_at = ? WHERE id = ?`,
		agent.Name,
		nullIfEmpty(agent.Description),
		nullIfEmpty(agent.AvatarURL),
		agent.Status,
		toMillis(agent.UpdatedAt),
		agent.ID,
	)
	if err != nil {
		return mapAgentConflict(err)
	}
	return expectAffected(res)
}

func (s *Store) SetAgentKeyHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET api_key_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMillis(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) TouchAgent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET last_seen_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DeleteAgent cascades to everything the agent authored and recounts the
// threads that lost comments.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE threads SET comment_count = (SELECT COUNT(*) FROM comments WHERE comments.thread_id = threads.id)`); err != nil {
		return err
	}
	return tx.Commit()
}

func scanAgent(row scanner) (model.Agent, error) {
	var agent model.Agent
	var description, avatarURL, keyHash sql.NullString
	var lastSeen sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(
		&agent.ID,
		&agent.WalletAddress,
		&agent.Name,
		&description,
		&avatarURL,
		&agent.Status,
		&keyHash,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Agent{}, store.ErrNotFound
		}
		return model.Agent{}, err
	}
	agent.Description = description.String
	agent.AvatarURL = avatarURL.String
	agent.APIKeyHash = keyHash.String
	agent.LastSeenAt = timePtr(lastSeen)
	agent.CreatedAt = fromMillis(createdAt)
	agent.UpdatedAt = fromMillis(updatedAt)
	return agent, nil
}

func mapAgentConflict(err error) error {
	if !isUniqueViolation(err) {
		return err
	}
	if strings.Contains(err.Error(), "wallet_address") {
		return store.ErrDuplicateWallet
	}
	return store.ErrDuplicateName
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
