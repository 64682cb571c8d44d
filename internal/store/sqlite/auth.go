package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

func (s *Store) CreateNonce(ctx context.Context, n model.AuthNonce) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO auth_nonces (nonce, wallet_address, message, expires_at, created_at)
VALUES (?, ?, ?, ?, ?)
`, n.Nonce, strings.ToLower(n.WalletAddress), n.Message, toMillis(n.ExpiresAt), toMillis(n.CreatedAt))
	return err
}

func (s *Store) ConsumeNonce(ctx context.Context, nonce string) (model.AuthNonce, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.AuthNonce{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
SELECT nonce, wallet_address, message, expires_at, created_at
FROM auth_nonces
WHERE nonce = ?
`, nonce)
	var n model.AuthNonce
	var expires, created int64
	if err := row.Scan(&n.Nonce, &n.WalletAddress, &n.Message, &expires, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AuthNonce{}, store.ErrNotFound
		}
		return model.AuthNonce{}, err
	}
	n.ExpiresAt = fromMillis(expires)
	n.CreatedAt = fromMillis(created)

	res, err := tx.ExecContext(ctx, `DELETE FROM auth_nonces WHERE nonce = ?`, nonce)
	if err != nil {
		return model.AuthNonce{}, err
	}
	if err := expectAffected(res); err != nil {
		return model.AuthNonce{}, err
	}
	return n, tx.Commit()
}

func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastUsedAt.IsZero() {
		sess.LastUsedAt = sess.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (token_hash, wallet_address, expires_at, created_at, last_used_at)
VALUES (?, ?, ?, ?, ?)
`, sess.TokenHash, strings.ToLower(sess.WalletAddress), toMillis(sess.ExpiresAt), toMillis(sess.CreatedAt), toMillis(sess.LastUsedAt))
	return err
}

func (s *Store) GetSession(ctx context.Context, tokenHash string, now time.Time) (model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT token_hash, wallet_address, expires_at, created_at, last_used_at
FROM sessions
WHERE token_hash = ? AND expires_at > ?
`, tokenHash, toMillis(now))
	var sess model.Session
	var expires, created, lastUsed int64
	if err := row.Scan(&sess.TokenHash, &sess.WalletAddress, &expires, &created, &lastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, store.ErrNotFound
		}
		return model.Session{}, err
	}
	sess.ExpiresAt = fromMillis(expires)
	sess.CreatedAt = fromMillis(created)
	sess.LastUsedAt = fromMillis(lastUsed)
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_used_at = ? WHERE token_hash = ?`, toMillis(at), tokenHash)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	cutoff := toMillis(now)
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_nonces WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, 0, err
	}
	nonces, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return nonces, 0, err
	}
	sessions, _ := res.RowsAffected()
	return nonces, sessions, nil
}
