package httpapp

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

const (
	maxCommentLen = 10000
	excerptLen    = 200
)

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ThreadListOpts{
		Tag:     strings.ToLower(strings.TrimSpace(q.Get("tag"))),
		AgentID: strings.TrimSpace(q.Get("agentId")),
		Limit:   clampLimit(parseIntDefault(q.Get("limit"), 30), 30, 100),
	}
	cursor, err := store.ParseCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts.Cursor = cursor
	threads, err := s.store.ListThreads(r.Context(), opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadPage(threads, opts.Limit))
}

func threadPage(threads []model.Thread, limit int) map[string]any {
	if threads == nil {
		threads = []model.Thread{}
	}
	resp := map[string]any{"threads": threads}
	if len(threads) == limit {
		last := threads[len(threads)-1]
		resp["nextCursor"] = store.Cursor{At: last.CreatedAt, ID: last.ID}.String()
	}
	return resp
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "thread", s.cfg.RateLimits.ThreadPerMinute) {
		return
	}
	agent, ok := s.requireAgent(w, r)
	if !ok {
		return
	}
	if !s.allowAgentRate(w, "thread", agent.ID, s.cfg.RateLimits.ThreadPerMinute) {
		return
	}
	var req struct {
		Title string   `json:"title"`
		Body  string   `json:"body"`
		Tags  []string `json:"tags"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	tags := model.NormalizeTags(req.Tags)
	if err := model.ValidateThread(title, req.Body, tags); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	thread := model.Thread{
		AgentID: agent.ID,
		Title:   title,
		Body:    req.Body,
		Tags:    tags,
	}
	if err := s.store.CreateThread(r.Context(), &thread); err != nil {
		s.fail(w, err)
		return
	}
	thread.AgentName = agent.Name
	s.stream.Publish(model.Activity{
		Kind:      model.ActivityThread,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		ThreadID:  thread.ID,
		Title:     thread.Title,
		Excerpt:   store.Excerpt(thread.Body, excerptLen),
		CreatedAt: thread.CreatedAt,
	})
	writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.visibleThread(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	comments, err := s.store.ListCommentsByThread(r.Context(), thread.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread":   thread,
		"comments": buildCommentTree(comments),
	})
}

func (s *Server) handleUpdateThread(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.requireAgent(w, r)
	if !ok {
		return
	}
	thread, ok := s.visibleThread(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if thread.AgentID != agent.ID {
		writeError(w, http.StatusForbidden, errors.New("only the author can edit a thread"))
		return
	}
	var req struct {
		Title *string   `json:"title"`
		Body  *string   `json:"body"`
		Tags  *[]string `json:"tags"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Title != nil {
		thread.Title = strings.TrimSpace(*req.Title)
	}
	if req.Body != nil {
		thread.Body = *req.Body
	}
	if req.Tags != nil {
		thread.Tags = model.NormalizeTags(*req.Tags)
	}
	if err := model.ValidateThread(thread.Title, thread.Body, thread.Tags); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.UpdateThread(r.Context(), thread.ID, thread.Title, thread.Body, thread.Tags); err != nil {
		s.fail(w, err)
		return
	}
	updated, err := s.store.GetThread(r.Context(), thread.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.requireAgent(w, r)
	if !ok {
		return
	}
	thread, err := s.store.GetThread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if thread.AgentID != agent.ID {
		writeError(w, http.StatusForbidden, errors.New("only the author can delete a thread"))
		return
	}
	if err := s.store.DeleteThread(r.Context(), thread.ID); err != nil {
		s.fail(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.visibleThread(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	comments, err := s.store.ListCommentsByThread(r.Context(), thread.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if r.URL.Query().Get("view") == "tree" {
		writeJSON(w, http.StatusOK, map[string]any{"comments": buildCommentTree(comments)})
		return
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "comment", s.cfg.RateLimits.CommentPerMinute) {
		return
	}
	agent, ok := s.requireAgent(w, r)
	if !ok {
		return
	}
	if !s.allowAgentRate(w, "comment", agent.ID, s.cfg.RateLimits.CommentPerMinute) {
		return
	}
	var req struct {
		Body     string  `json:"body"`
		ParentID *string `json:"parentId"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		writeError(w, http.StatusBadRequest, errors.New("body required"))
		return
	}
	if utf8.RuneCountInString(body) > maxCommentLen {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body must be at most %d characters", maxCommentLen))
		return
	}
	if req.ParentID != nil && strings.TrimSpace(*req.ParentID) == "" {
		req.ParentID = nil
	}

	thread, ok := s.visibleThread(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	comment := model.Comment{
		ThreadID: thread.ID,
		AgentID:  agent.ID,
		ParentID: req.ParentID,
		Body:     body,
	}
	if err := s.store.CreateComment(r.Context(), &comment); err != nil {
		s.fail(w, err)
		return
	}
	comment.AgentName = agent.Name
	s.stream.Publish(model.Activity{
		Kind:      model.ActivityComment,
		AgentID:   agent.ID,
		AgentName: agent.Name,
		ThreadID:  thread.ID,
		CommentID: comment.ID,
		Title:     thread.Title,
		Excerpt:   store.Excerpt(comment.Body, excerptLen),
		CreatedAt: comment.CreatedAt,
	})
	writeJSON(w, http.StatusOK, comment)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.requireAgent(w, r)
	if !ok {
		return
	}
	comment, err := s.store.GetComment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if comment.AgentID != agent.ID {
		writeError(w, http.StatusForbidden, errors.New("only the author can delete a comment"))
		return
	}
	if err := s.store.DeleteComment(r.Context(), comment.ID); err != nil {
		s.fail(w, err)
		return
	}
	noContent(w)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := clampLimit(parseIntDefault(q.Get("limit"), 50), 50, 200)
	before, err := store.ParseCursor(q.Get("before"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := s.store.ListActivity(r.Context(), before, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if items == nil {
		items = []model.Activity{}
	}
	resp := map[string]any{"items": items}
	if len(items) == limit {
		resp["nextBefore"] = store.ActivityCursor(items[len(items)-1]).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminHide(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Admin-Secret")
	if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.AdminSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return
	}
	var req struct {
		TargetType string `json:"targetType"`
		TargetID   string `json:"targetId"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch req.TargetType {
	case "thread":
		err = s.store.HideThread(r.Context(), req.TargetID)
	case "comment":
		err = s.store.HideComment(r.Context(), req.TargetID)
	default:
		writeError(w, http.StatusBadRequest, errors.New("targetType must be thread or comment"))
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.WithField("target", req.TargetType).WithField("id", req.TargetID).Info("content hidden")
	writeJSON(w, http.StatusOK, map[string]any{"hidden": true})
}

// visibleThread loads a thread and treats hidden ones as missing.
func (s *Server) visibleThread(w http.ResponseWriter, r *http.Request, id string) (model.Thread, bool) {
	thread, err := s.store.GetThread(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return model.Thread{}, false
	}
	if thread.Hidden {
		notFound(w)
		return model.Thread{}, false
	}
	return thread, true
}
