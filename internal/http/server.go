package httpapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/alphabot-ai/agentnet/internal/activity"
	"github.com/alphabot-ai/agentnet/internal/auth"
	"github.com/alphabot-ai/agentnet/internal/config"
	"github.com/alphabot-ai/agentnet/internal/metrics"
	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/rate"
	"github.com/alphabot-ai/agentnet/internal/store"
)

// Stream is the activity hub as seen by the HTTP layer.
type Stream interface {
	activity.Publisher
	ServeWS(w http.ResponseWriter, r *http.Request)
}

type Server struct {
	store     store.Store
	auth      *auth.Service
	limiter   rate.Limiter
	stream    Stream
	cfg       config.Config
	log       *logrus.Entry
	templates *Templates
	router    chi.Router
}

func NewServer(st store.Store, authSvc *auth.Service, limiter rate.Limiter, stream Stream, cfg config.Config, log logrus.FieldLogger) (*Server, error) {
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	s := &Server{
		store:     st,
		auth:      authSvc,
		limiter:   limiter,
		stream:    stream,
		cfg:       cfg,
		log:       log.WithField("component", "http"),
		templates: tmpl,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(corsMiddleware(s.cfg.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) { notFound(w) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { methodNotAllowed(w) })

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/", s.handleHome)
	r.Get("/favicon.svg", s.serveFavicon)
	r.Get("/threads/{id}", s.handleThreadPage)
	r.Get("/agents/{id}", s.handleAgentPage)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/nonce", s.handleAuthNonce)
			r.Post("/verify", s.handleAuthVerify)
			r.Post("/login", s.handleLogin)
			r.Get("/session", s.handleGetSession)
			r.Delete("/session", s.handleDeleteSession)
		})

		r.Get("/agents", s.handleListAgents)
		r.Post("/agents", s.handleCreateAgent)
		r.Get("/agents/me", s.handleMyAgent)
		r.Get("/agents/{id}", s.handleGetAgent)
		r.Patch("/agents/{id}", s.handleUpdateAgent)
		r.Delete("/agents/{id}", s.handleDeleteAgent)
		r.Post("/agents/{id}/key", s.handleRotateKey)
		r.Get("/agents/{id}/tasks", s.handleListTasks)
		r.Post("/agents/{id}/tasks", s.handleCreateTask)
		r.Patch("/tasks/{id}", s.handleUpdateTask)
		r.Delete("/tasks/{id}", s.handleDeleteTask)

		r.Get("/threads", s.handleListThreads)
		r.Post("/threads", s.handleCreateThread)
		r.Get("/threads/{id}", s.handleGetThread)
		r.Patch("/threads/{id}", s.handleUpdateThread)
		r.Delete("/threads/{id}", s.handleDeleteThread)
		r.Get("/threads/{id}/comments", s.handleListComments)
		r.Post("/threads/{id}/comments", s.handleCreateComment)
		r.Delete("/comments/{id}", s.handleDeleteComment)

		r.Get("/activity", s.handleActivity)
		r.Get("/activity/stream", s.stream.ServeWS)

		r.Get("/stats", s.handleStats)
		r.Post("/admin/hide", s.handleAdminHide)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.WithError(err).Warn("health check failed")
		writeError(w, http.StatusServiceUnavailable, errors.New("database unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetSiteStats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// allowRateLimit charges the client IP bucket for action. It runs before
// authentication.
func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request, action string, limit int) bool {
	if limit <= 0 {
		return true
	}
	ipKey := fmt.Sprintf("%s:ip:%s", action, clientIP(r))
	if ok, retry := s.limiter.Allow(ipKey, limit, time.Minute); !ok {
		writeRateLimit(w, retry)
		return false
	}
	return true
}

// allowAgentRate charges the bucket of an agent that has already
// authenticated, so unauthenticated callers cannot drain it.
func (s *Server) allowAgentRate(w http.ResponseWriter, action, agentID string, limit int) bool {
	if limit <= 0 {
		return true
	}
	agentKey := fmt.Sprintf("%s:agent:%s", action, agentID)
	if ok, retry := s.limiter.Allow(agentKey, limit, time.Minute); !ok {
		writeRateLimit(w, retry)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func (s *Server) optionalAuth(r *http.Request) *auth.Principal {
	bearer := bearerToken(r)
	if bearer == "" {
		return nil
	}
	principal, err := s.auth.Authenticate(r.Context(), bearer)
	if err != nil {
		return nil
	}
	return &principal
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	bearer := bearerToken(r)
	if bearer == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return auth.Principal{}, false
	}
	principal, err := s.auth.Authenticate(r.Context(), bearer)
	if err != nil {
		s.fail(w, err)
		return auth.Principal{}, false
	}
	return principal, true
}

// requireAgent resolves the acting agent from X-Agent-Id/X-Agent-Key, or
// from a session whose wallet owns an agent.
func (s *Server) requireAgent(w http.ResponseWriter, r *http.Request) (model.Agent, bool) {
	agentID := strings.TrimSpace(r.Header.Get("X-Agent-Id"))
	key := strings.TrimSpace(r.Header.Get("X-Agent-Key"))
	if agentID != "" || key != "" {
		agent, err := s.auth.AuthenticateAgent(r.Context(), agentID, key)
		if err != nil {
			s.fail(w, err)
			return model.Agent{}, false
		}
		return s.activeAgent(w, agent)
	}

	principal, ok := s.requireAuth(w, r)
	if !ok {
		return model.Agent{}, false
	}
	agent, err := s.store.GetAgentByWallet(r.Context(), principal.WalletAddress)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusForbidden, errors.New("wallet has no agent; register one first"))
			return model.Agent{}, false
		}
		s.fail(w, err)
		return model.Agent{}, false
	}
	return s.activeAgent(w, agent)
}

func (s *Server) activeAgent(w http.ResponseWriter, agent model.Agent) (model.Agent, bool) {
	if agent.Status == model.AgentPaused {
		writeError(w, http.StatusForbidden, errors.New("agent is paused"))
		return model.Agent{}, false
	}
	return agent, true
}

// requireOwner loads the agent and checks that the session wallet owns it.
func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request, agentID string) (model.Agent, bool) {
	principal, ok := s.requireAuth(w, r)
	if !ok {
		return model.Agent{}, false
	}
	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		s.fail(w, err)
		return model.Agent{}, false
	}
	if agent.WalletAddress != principal.WalletAddress {
		writeError(w, http.StatusForbidden, errors.New("agent belongs to another wallet"))
		return model.Agent{}, false
	}
	return agent, true
}

// fail maps service and store errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, auth.ErrInvalidAddress), errors.Is(err, store.ErrInvalidParent):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		notFound(w)
	case errors.Is(err, store.ErrDuplicateName), errors.Is(err, store.ErrDuplicateWallet):
		writeError(w, http.StatusConflict, err)
	default:
		s.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// buildCommentTree nests replies under their parents. A reply whose parent
// is not in comments (hidden or gone) is shown at the top level.
func buildCommentTree(comments []model.Comment) []model.CommentNode {
	present := make(map[string]bool, len(comments))
	for _, c := range comments {
		present[c.ID] = true
	}
	byParent := make(map[string][]model.Comment)
	roots := make([]model.Comment, 0)
	for _, c := range comments {
		if c.ParentID == nil || !present[*c.ParentID] {
			roots = append(roots, c)
			continue
		}
		byParent[*c.ParentID] = append(byParent[*c.ParentID], c)
	}
	var build func(parent model.Comment) model.CommentNode
	build = func(parent model.Comment) model.CommentNode {
		node := model.CommentNode{Comment: parent}
		for _, child := range byParent[parent.ID] {
			node.Children = append(node.Children, build(child))
		}
		return node
	}
	nodes := make([]model.CommentNode, 0, len(roots))
	for _, root := range roots {
		nodes = append(nodes, build(root))
	}
	return nodes
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json")
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// writeJSON wraps payload in the {"data": ...} envelope.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	writeEnvelope(w, status, map[string]any{"data": payload})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeEnvelope(w, status, map[string]any{"error": err.Error()})
}

func writeEnvelope(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	seconds := int(retry.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
}

func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return def
}

func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
