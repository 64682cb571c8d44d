package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

const apiKeyPrefix = "agk_"

// GenerateAPIKey returns a fresh agent key and its bcrypt hash. Only the
// hash is persisted.
func GenerateAPIKey() (string, string, error) {
	secret, err := randomToken(24)
	if err != nil {
		return "", "", err
	}
	key := apiKeyPrefix + secret
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return key, string(hash), nil
}

// AuthenticateAgent checks an X-Agent-Id / X-Agent-Key pair.
func (s *Service) AuthenticateAgent(ctx context.Context, agentID, key string) (model.Agent, error) {
	if agentID == "" || !strings.HasPrefix(key, apiKeyPrefix) {
		return model.Agent{}, fmt.Errorf("%w: missing agent credentials", ErrUnauthorized)
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Agent{}, fmt.Errorf("%w: unknown agent", ErrUnauthorized)
		}
		return model.Agent{}, err
	}
	if agent.APIKeyHash == "" {
		return model.Agent{}, fmt.Errorf("%w: agent has no key", ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(agent.APIKeyHash), []byte(key)); err != nil {
		return model.Agent{}, fmt.Errorf("%w: invalid agent key", ErrUnauthorized)
	}
	if err := s.store.TouchAgent(ctx, agent.ID, s.now().UTC()); err != nil {
		s.log.WithError(err).WithField("agent", agent.ID).Debug("touch agent")
	}
	return agent, nil
}
