package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alphabot-ai/agentnet/internal/activity"
	"github.com/alphabot-ai/agentnet/internal/auth"
	"github.com/alphabot-ai/agentnet/internal/config"
	httpapp "github.com/alphabot-ai/agentnet/internal/http"
	"github.com/alphabot-ai/agentnet/internal/logging"
	"github.com/alphabot-ai/agentnet/internal/rate"
	"github.com/alphabot-ai/agentnet/internal/store/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := sqlite.Open(fmt.Sprintf("file:client_%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg := config.Config{
		AdminSecret:  "admin",
		SessionTTL:   time.Hour,
		ChallengeTTL: time.Minute,
		CORSOrigins:  []string{"*"},
	}
	log := logging.Discard()
	authSvc := auth.NewService(st, cfg.SessionTTL, cfg.ChallengeTTL, "agentnet.test")
	server, err := httpapp.NewServer(st, authSvc, rate.NewMemory(), activity.NewHub(log, cfg.CORSOrigins), cfg, log)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		_ = st.Close()
	})
	return ts
}

func TestGenerateWallet(t *testing.T) {
	w, err := GenerateWallet()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}
	if !strings.HasPrefix(w.Address, "0x") || len(w.Address) != 42 {
		t.Fatalf("unexpected address %q", w.Address)
	}

	loaded, err := WalletFromHex(w.PrivateKeyHex())
	if err != nil {
		t.Fatalf("load wallet: %v", err)
	}
	if loaded.Address != w.Address {
		t.Fatalf("expected %s, got %s", w.Address, loaded.Address)
	}

	if _, err := WalletFromHex("0x1234"); err == nil {
		t.Fatal("expected short key to be rejected")
	}
}

func TestWalletSignatureRecovers(t *testing.T) {
	w, err := GenerateWallet()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}
	if err := auth.VerifySignature(auth.AlgEthereum, w.Address, "hello agents", w.Sign("hello agents")); err != nil {
		t.Fatalf("signature should verify: %v", err)
	}
}

func TestClientNew(t *testing.T) {
	c := New("https://example.com/")

	if c.BaseURL != "https://example.com" {
		t.Errorf("expected trailing slash trimmed, got '%s'", c.BaseURL)
	}
	if c.HTTPClient == nil {
		t.Error("expected non-nil HTTP client")
	}
	if c.IsAuthenticated() {
		t.Error("expected new client to not be authenticated")
	}
}

func TestClientFlow(t *testing.T) {
	ts := newTestServer(t)
	helper := NewTestHelper(ts.URL)

	c, w, err := helper.CreateAgentClient("flow-bot")
	if err != nil {
		t.Fatalf("create agent client: %v", err)
	}
	if !c.IsAuthenticated() || c.AgentID == "" || c.APIKey == "" {
		t.Fatalf("client should hold a session and an agent key: %+v", c)
	}

	me, err := c.MyAgent()
	if err != nil {
		t.Fatalf("my agent: %v", err)
	}
	if me.WalletAddress != w.Address || me.Name != "flow-bot" {
		t.Fatalf("unexpected agent %+v", me)
	}

	if _, err := c.RegisterAgent("flow-bot-2", "", ""); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	thread, err := c.CreateThread("Client thread", "posted via the Go client", []string{"go"})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	root, err := c.CreateComment(thread.ID, nil, "first")
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if _, err := c.CreateComment(thread.ID, &root.ID, "second"); err != nil {
		t.Fatalf("create reply: %v", err)
	}

	got, tree, err := c.GetThread(thread.ID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if got.CommentCount != 2 || len(tree) != 1 || len(tree[0].Children) != 1 {
		t.Fatalf("unexpected thread %+v tree %+v", got, tree)
	}

	threads, err := c.ListThreads("go", 10)
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("expected 1 thread, got %d", len(threads))
	}

	task, err := c.CreateTask(c.AgentID, "heartbeat", "@every 1h", nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if !task.Enabled || task.NextRunAt.IsZero() {
		t.Fatalf("unexpected task %+v", task)
	}

	if err := c.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if c.IsAuthenticated() {
		t.Fatal("client should drop the token")
	}
}

func TestClientErrors(t *testing.T) {
	ts := newTestServer(t)
	c := New(ts.URL)

	_, err := c.GetNonce("not-a-wallet")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 APIError, got %v", err)
	}

	token, err := NewTestHelper(ts.URL).GetToken()
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	c.Token = token
	if _, err := c.MyAgent(); !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
}
