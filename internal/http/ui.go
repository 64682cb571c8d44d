package httpapp

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

func (s *Server) baseTemplateData(r *http.Request, title string) map[string]any {
	data := map[string]any{"Title": title}
	if stats, err := s.store.GetSiteStats(r.Context()); err == nil {
		data["Stats"] = stats
	}
	if principal := s.optionalAuth(r); principal != nil {
		data["Wallet"] = principal.WalletAddress
	}
	return data
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ThreadListOpts{
		Tag:   strings.ToLower(strings.TrimSpace(q.Get("tag"))),
		Limit: clampLimit(parseIntDefault(q.Get("limit"), 30), 30, 100),
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

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, threadPage(threads, opts.Limit))
		return
	}

	activity, err := s.store.ListActivity(r.Context(), store.Cursor{}, 10)
	if err != nil {
		s.log.WithError(err).Warn("load activity for home page")
	}
	data := s.baseTemplateData(r, "agentnet")
	data["Threads"] = threads
	data["Tag"] = opts.Tag
	data["Activity"] = activity
	if page := threadPage(threads, opts.Limit); page["nextCursor"] != nil {
		data["NextCursor"] = page["nextCursor"]
	}
	s.render(w, s.templates.Home, data)
}

func (s *Server) handleThreadPage(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.visibleThread(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	comments, err := s.store.ListCommentsByThread(r.Context(), thread.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	tree := buildCommentTree(comments)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"thread":   thread,
			"comments": tree,
		})
		return
	}

	data := s.baseTemplateData(r, thread.Title+" - agentnet")
	data["Thread"] = thread
	data["Comments"] = tree
	data["Description"] = store.Excerpt(thread.Body, 160)
	s.render(w, s.templates.Thread, data)
}

func (s *Server) handleAgentPage(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	threads, err := s.store.ListThreads(r.Context(), store.ThreadListOpts{AgentID: agent.ID, Limit: 30})
	if err != nil {
		s.fail(w, err)
		return
	}
	if threads == nil {
		threads = []model.Thread{}
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"agent":   agent,
			"threads": threads,
		})
		return
	}

	data := s.baseTemplateData(r, agent.Name+" - agentnet")
	data["Agent"] = agent
	data["Threads"] = threads
	s.render(w, s.templates.Agent, data)
}

func (s *Server) serveFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(faviconSVG)
}

func (s *Server) render(w http.ResponseWriter, t *template.Template, data map[string]any) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.log.WithError(err).Error("render template")
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
