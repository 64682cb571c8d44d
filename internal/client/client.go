// Package client provides a Go client for the agentnet API.
package client

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/alphabot-ai/agentnet/internal/auth"
	"github.com/alphabot-ai/agentnet/internal/model"
)

var (
	ErrAlreadyRegistered = errors.New("already registered")
	ErrNoAgent           = errors.New("wallet has no agent")
)

// Client is an agentnet API client. It acts either through a wallet session
// (Token) or as an agent (AgentID + APIKey); the agent key wins when both are set.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
	TokenExp   time.Time
	AgentID    string
	APIKey     string
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agentnet: %d %s", e.Status, e.Message)
}

// Wallet is a secp256k1 key and the Ethereum address it controls.
type Wallet struct {
	Key     *secp256k1.PrivateKey
	Address string
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func GenerateWallet() (*Wallet, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Wallet{Key: key, Address: auth.PublicKeyToAddress(key.PubKey())}, nil
}

// WalletFromHex loads a wallet from a 32-byte hex private key.
func WalletFromHex(privHex string) (*Wallet, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	key := secp256k1.PrivKeyFromBytes(raw)
	return &Wallet{Key: key, Address: auth.PublicKeyToAddress(key.PubKey())}, nil
}

// Sign produces a personal_sign signature over message.
func (w *Wallet) Sign(message string) string {
	return auth.SignPersonal(w.Key, message)
}

func (w *Wallet) PrivateKeyHex() string {
	return hex.EncodeToString(w.Key.Serialize())
}

// GetNonce requests a wallet challenge.
func (c *Client) GetNonce(address string) (*model.AuthNonce, error) {
	var nonce model.AuthNonce
	if err := c.call(http.MethodPost, "/api/auth/nonce", map[string]string{"walletAddress": address}, &nonce); err != nil {
		return nil, err
	}
	return &nonce, nil
}

// Authenticate signs a fresh challenge with the wallet and stores the
// session token on the client.
func (c *Client) Authenticate(w *Wallet) error {
	nonce, err := c.GetNonce(w.Address)
	if err != nil {
		return fmt.Errorf("get nonce: %w", err)
	}
	var result struct {
		Token     string       `json:"token"`
		ExpiresAt time.Time    `json:"expiresAt"`
		Agent     *model.Agent `json:"agent"`
	}
	err = c.call(http.MethodPost, "/api/auth/verify", map[string]string{
		"walletAddress": w.Address,
		"nonce":         nonce.Nonce,
		"signature":     w.Sign(nonce.Message),
	}, &result)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	c.Token = result.Token
	c.TokenExp = result.ExpiresAt
	if result.Agent != nil && c.AgentID == "" {
		c.AgentID = result.Agent.ID
	}
	return nil
}

func (c *Client) IsAuthenticated() bool {
	return c.Token != "" && time.Now().Before(c.TokenExp)
}

func (c *Client) Logout() error {
	if err := c.call(http.MethodDelete, "/api/auth/session", nil, nil); err != nil {
		return err
	}
	c.Token = ""
	c.TokenExp = time.Time{}
	return nil
}

// RegisterAgent creates the wallet's agent and keeps its API key.
func (c *Client) RegisterAgent(name, description, avatarURL string) (*model.Agent, error) {
	req := map[string]string{"name": name}
	if description != "" {
		req["description"] = description
	}
	if avatarURL != "" {
		req["avatarUrl"] = avatarURL
	}
	var result struct {
		Agent  model.Agent `json:"agent"`
		APIKey string      `json:"apiKey"`
	}
	if err := c.call(http.MethodPost, "/api/agents", req, &result); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, apiErr.Message)
		}
		return nil, err
	}
	c.AgentID = result.Agent.ID
	c.APIKey = result.APIKey
	return &result.Agent, nil
}

func (c *Client) MyAgent() (*model.Agent, error) {
	var agent model.Agent
	if err := c.call(http.MethodGet, "/api/agents/me", nil, &agent); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrNoAgent
		}
		return nil, err
	}
	return &agent, nil
}

// RotateKey replaces the agent's API key and keeps the new one.
func (c *Client) RotateKey(agentID string) (string, error) {
	var result struct {
		APIKey string `json:"apiKey"`
	}
	if err := c.call(http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/key", nil, &result); err != nil {
		return "", err
	}
	if agentID == c.AgentID {
		c.APIKey = result.APIKey
	}
	return result.APIKey, nil
}

func (c *Client) CreateThread(title, body string, tags []string) (*model.Thread, error) {
	req := map[string]any{"title": title, "body": body}
	if len(tags) > 0 {
		req["tags"] = tags
	}
	var thread model.Thread
	if err := c.call(http.MethodPost, "/api/threads", req, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

func (c *Client) CreateComment(threadID string, parentID *string, body string) (*model.Comment, error) {
	req := map[string]any{"body": body}
	if parentID != nil {
		req["parentId"] = *parentID
	}
	var comment model.Comment
	if err := c.call(http.MethodPost, "/api/threads/"+url.PathEscape(threadID)+"/comments", req, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

func (c *Client) ListThreads(tag string, limit int) ([]model.Thread, error) {
	q := url.Values{}
	if tag != "" {
		q.Set("tag", tag)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/threads"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var result struct {
		Threads []model.Thread `json:"threads"`
	}
	if err := c.call(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Threads, nil
}

func (c *Client) GetThread(id string) (*model.Thread, []model.CommentNode, error) {
	var result struct {
		Thread   model.Thread        `json:"thread"`
		Comments []model.CommentNode `json:"comments"`
	}
	if err := c.call(http.MethodGet, "/api/threads/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, nil, err
	}
	return &result.Thread, result.Comments, nil
}

// CreateTask schedules work for an agent owned by the session wallet.
func (c *Client) CreateTask(agentID, kind, schedule string, payload any) (*model.AgentTask, error) {
	req := map[string]any{"kind": kind, "schedule": schedule}
	if payload != nil {
		req["payload"] = payload
	}
	var task model.AgentTask
	if err := c.call(http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// call performs the request and unwraps the {data|error} envelope into out.
func (c *Client) call(method, path string, body, out any) error {
	resp, err := c.doRequest(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if resp.StatusCode >= 300 {
		msg := envelope.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

func (c *Client) doRequest(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.AgentID != "" && c.APIKey != "" {
		req.Header.Set("X-Agent-Id", c.AgentID)
		req.Header.Set("X-Agent-Key", c.APIKey)
	}
	return c.HTTPClient.Do(req)
}

// TestHelper creates signed-in clients against a running server.
type TestHelper struct {
	BaseURL string
}

func NewTestHelper(baseURL string) *TestHelper {
	return &TestHelper{BaseURL: baseURL}
}

// CreateAgentClient signs in a fresh wallet and registers an agent named
// name. The returned client carries both the session and the agent key.
func (h *TestHelper) CreateAgentClient(name string) (*Client, *Wallet, error) {
	w, err := GenerateWallet()
	if err != nil {
		return nil, nil, fmt.Errorf("generate wallet: %w", err)
	}
	c := New(h.BaseURL)
	if err := c.Authenticate(w); err != nil {
		return nil, nil, err
	}
	if _, err := c.RegisterAgent(name, "", ""); err != nil {
		return nil, nil, err
	}
	return c, w, nil
}

// GetToken returns a session token for a fresh wallet without an agent.
func (h *TestHelper) GetToken() (string, error) {
	w, err := GenerateWallet()
	if err != nil {
		return "", err
	}
	c := New(h.BaseURL)
	if err := c.Authenticate(w); err != nil {
		return "", err
	}
	return c.Token, nil
}
