package httpapp

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alphabot-ai/agentnet/internal/auth"
	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/scheduler"
	"github.com/alphabot-ai/agentnet/internal/store"
)

var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{2,31}$`)

const maxDescriptionLen = 500

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := clampLimit(parseIntDefault(q.Get("limit"), 30), 30, 100)
	offset := parseIntDefault(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	agents, total, err := s.store.ListAgents(r.Context(), store.AgentListOpts{Limit: limit, Offset: offset})
	if err != nil {
		s.fail(w, err)
		return
	}
	if agents == nil {
		agents = []model.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		AvatarURL   string `json:"avatarUrl"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	agent := model.Agent{
		WalletAddress: principal.WalletAddress,
		Name:          strings.TrimSpace(req.Name),
		Description:   strings.TrimSpace(req.Description),
		AvatarURL:     strings.TrimSpace(req.AvatarURL),
		Status:        model.AgentActive,
	}
	if err := validateAgent(agent); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		s.fail(w, err)
		return
	}
	agent.APIKeyHash = hash
	if err := s.store.CreateAgent(r.Context(), &agent); err != nil {
		s.fail(w, err)
		return
	}
	s.log.WithField("agent", agent.ID).WithField("wallet", agent.WalletAddress).Info("agent registered")
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":  agent,
		"apiKey": key,
	})
}

func (s *Server) handleMyAgent(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	agent, err := s.store.GetAgentByWallet(r.Context(), principal.WalletAddress)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("no agent registered for this wallet"))
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.requireOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		AvatarURL   *string `json:"avatarUrl"`
		Status      *string `json:"status"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name != nil {
		agent.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		agent.Description = strings.TrimSpace(*req.Description)
	}
	if req.AvatarURL != nil {
		agent.AvatarURL = strings.TrimSpace(*req.AvatarURL)
	}
	if req.Status != nil {
		agent.Status = strings.TrimSpace(*req.Status)
	}
	if err := validateAgent(agent); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.UpdateAgent(r.Context(), &agent); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.requireOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := s.store.DeleteAgent(r.Context(), agent.ID); err != nil {
		s.fail(w, err)
		return
	}
	s.log.WithField("agent", agent.ID).Info("agent deleted")
	noContent(w)
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.requireOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.SetAgentKeyHash(r.Context(), agent.ID, hash); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agentId": agent.ID, "apiKey": key})
}

func validateAgent(agent model.Agent) error {
	if !agentNamePattern.MatchString(agent.Name) {
		return errors.New("name must be 3-32 characters of letters, digits, '-' or '_'")
	}
	if len(agent.Description) > maxDescriptionLen {
		return errors.New("description too long")
	}
	if agent.AvatarURL != "" && !strings.HasPrefix(agent.AvatarURL, "https://") && !strings.HasPrefix(agent.AvatarURL, "http://") {
		return errors.New("avatarUrl must be an http(s) URL")
	}
	if agent.Status != model.AgentActive && agent.Status != model.AgentPaused {
		return errors.New("status must be active or paused")
	}
	return nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.requireOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	tasks, err := s.store.ListTasksByAgent(r.Context(), agent.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if tasks == nil {
		tasks = []model.AgentTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.requireOwner(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req struct {
		Kind     string          `json:"kind"`
		Schedule string          `json:"schedule"`
		Payload  json.RawMessage `json:"payload"`
		Enabled  *bool           `json:"enabled"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task := model.AgentTask{
		AgentID:  agent.ID,
		Kind:     strings.TrimSpace(req.Kind),
		Schedule: strings.TrimSpace(req.Schedule),
		Payload:  req.Payload,
		Enabled:  req.Enabled == nil || *req.Enabled,
	}
	next, err := validateTask(task, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task.NextRunAt = next
	if err := s.store.CreateTask(r.Context(), &task); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.requireTaskOwner(w, r)
	if !ok {
		return
	}
	var req struct {
		Schedule *string         `json:"schedule"`
		Payload  json.RawMessage `json:"payload"`
		Enabled  *bool           `json:"enabled"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reschedule := false
	if req.Schedule != nil {
		task.Schedule = strings.TrimSpace(*req.Schedule)
		reschedule = true
	}
	if req.Payload != nil {
		task.Payload = req.Payload
	}
	if req.Enabled != nil {
		reschedule = reschedule || (*req.Enabled && !task.Enabled)
		task.Enabled = *req.Enabled
	}
	next, err := validateTask(task, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if reschedule {
		task.NextRunAt = next
	}
	if err := s.store.UpdateTask(r.Context(), &task); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.requireTaskOwner(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteTask(r.Context(), task.ID); err != nil {
		s.fail(w, err)
		return
	}
	noContent(w)
}

func (s *Server) requireTaskOwner(w http.ResponseWriter, r *http.Request) (model.AgentTask, bool) {
	principal, ok := s.requireAuth(w, r)
	if !ok {
		return model.AgentTask{}, false
	}
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return model.AgentTask{}, false
	}
	agent, err := s.store.GetAgent(r.Context(), task.AgentID)
	if err != nil {
		s.fail(w, err)
		return model.AgentTask{}, false
	}
	if agent.WalletAddress != principal.WalletAddress {
		writeError(w, http.StatusForbidden, errors.New("task belongs to another wallet"))
		return model.AgentTask{}, false
	}
	return task, true
}

// validateTask checks kind, payload and schedule and returns the first run
// after now.
func validateTask(task model.AgentTask, now time.Time) (time.Time, error) {
	switch task.Kind {
	case model.TaskHeartbeat:
	case model.TaskPostThread:
		var payload model.PostThreadPayload
		if len(task.Payload) == 0 {
			return time.Time{}, errors.New("post_thread tasks need a payload")
		}
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return time.Time{}, errors.New("payload must be {title, body, tags}")
		}
		if err := model.ValidateThread(payload.Title, payload.Body, model.NormalizeTags(payload.Tags)); err != nil {
			return time.Time{}, err
		}
	default:
		return time.Time{}, errors.New("kind must be heartbeat or post_thread")
	}
	if task.Schedule == "" {
		return time.Time{}, errors.New("schedule required")
	}
	return scheduler.NextRun(task.Schedule, now)
}
