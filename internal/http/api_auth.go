package httpapp

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alphabot-ai/agentnet/internal/metrics"
	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

func (s *Server) handleAuthNonce(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "auth", s.cfg.RateLimits.AuthPerMinute) {
		return
	}
	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		writeError(w, http.StatusBadRequest, errors.New("walletAddress required"))
		return
	}
	nonce, err := s.auth.IssueNonce(r.Context(), req.WalletAddress)
	metrics.RecordAuth("nonce", err == nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonce)
}

func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "auth", s.cfg.RateLimits.AuthPerMinute) {
		return
	}
	var req struct {
		WalletAddress string `json:"walletAddress"`
		Nonce         string `json:"nonce"`
		Signature     string `json:"signature"`
		PublicKey     string `json:"publicKey"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wallet := strings.TrimSpace(req.WalletAddress)
	nonce := strings.TrimSpace(req.Nonce)
	signature := strings.TrimSpace(req.Signature)
	if wallet == "" || nonce == "" || signature == "" {
		writeError(w, http.StatusBadRequest, errors.New("walletAddress, nonce and signature required"))
		return
	}

	var (
		token string
		sess  model.Session
		err   error
	)
	if pub := strings.TrimSpace(req.PublicKey); pub != "" {
		token, sess, err = s.auth.VerifyWalletKey(r.Context(), wallet, pub, nonce, signature)
	} else {
		token, sess, err = s.auth.VerifyWallet(r.Context(), wallet, nonce, signature)
	}
	metrics.RecordAuth("verify", err == nil)
	if err != nil {
		s.log.WithError(err).WithField("wallet", wallet).Info("wallet verification rejected")
		s.fail(w, err)
		return
	}

	resp := map[string]any{
		"token":         token,
		"walletAddress": sess.WalletAddress,
		"expiresAt":     sess.ExpiresAt,
		"expiresIn":     expiresIn(sess.ExpiresAt),
	}
	if agent, err := s.store.GetAgentByWallet(r.Context(), sess.WalletAddress); err == nil {
		resp["agent"] = agent
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	resp := map[string]any{
		"walletAddress": principal.WalletAddress,
		"expiresAt":     principal.ExpiresAt,
		"agent":         nil,
	}
	agent, err := s.store.GetAgentByWallet(r.Context(), principal.WalletAddress)
	switch {
	case err == nil:
		resp["agent"] = agent
	case !errors.Is(err, store.ErrNotFound):
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	if err := s.auth.Revoke(r.Context(), bearerToken(r)); err != nil {
		s.fail(w, err)
		return
	}
	metrics.RecordAuth("logout", true)
	noContent(w)
}

// handleLogin answers the retired password login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Link", `</api/auth/nonce>; rel="alternate"`)
	writeError(w, http.StatusGone, errors.New("password login has been removed; sign in with a wallet via /api/auth/nonce"))
}

func expiresIn(t time.Time) int64 {
	d := time.Until(t)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}
