package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store/sqlite"
)

func newTestService(t *testing.T, sessionTTL, challengeTTL time.Duration) (*Service, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(fmt.Sprintf("file:auth_%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st, sessionTTL, challengeTTL, "agentnet.test"), st
}

func newWallet(t *testing.T) (*secp256k1.PrivateKey, string) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv, PublicKeyToAddress(priv.PubKey())
}

func TestIssueNonceRejectsBadAddress(t *testing.T) {
	svc, _ := newTestService(t, time.Hour, time.Minute)
	for _, addr := range []string{"", "0x123", "abcdefabcdefabcdefabcdefabcdefabcdefabcd"} {
		if _, err := svc.IssueNonce(context.Background(), addr); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("%q: expected invalid address, got %v", addr, err)
		}
	}
}

func TestWalletLoginFlow(t *testing.T) {
	svc, _ := newTestService(t, time.Hour, time.Minute)
	ctx := context.Background()
	priv, wallet := newWallet(t)

	n, err := svc.IssueNonce(ctx, "0x"+strings.ToUpper(wallet[2:]))
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	if !strings.Contains(n.Message, n.Nonce) || !strings.Contains(n.Message, wallet) {
		t.Fatalf("challenge must name wallet and nonce: %q", n.Message)
	}

	sig := SignPersonal(priv, n.Message)
	token, sess, err := svc.VerifyWallet(ctx, wallet, n.Nonce, sig)
	if err != nil {
		t.Fatalf("verify wallet: %v", err)
	}
	if token == "" || sess.TokenHash != HashToken(token) {
		t.Fatalf("unexpected session %+v", sess)
	}

	p, err := svc.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.WalletAddress != wallet {
		t.Fatalf("expected %s, got %s", wallet, p.WalletAddress)
	}

	if _, _, err := svc.VerifyWallet(ctx, wallet, n.Nonce, sig); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected nonce reuse to fail, got %v", err)
	}

	if err := svc.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.Authenticate(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
}

func TestExpiredNonceRejected(t *testing.T) {
	svc, _ := newTestService(t, time.Hour, -time.Second)
	ctx := context.Background()
	priv, wallet := newWallet(t)

	n, err := svc.IssueNonce(ctx, wallet)
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	_, _, err = svc.VerifyWallet(ctx, wallet, n.Nonce, SignPersonal(priv, n.Message))
	if !errors.Is(err, ErrUnauthorized) || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired nonce, got %v", err)
	}
}

func TestSignatureFromOtherWalletRejected(t *testing.T) {
	svc, _ := newTestService(t, time.Hour, time.Minute)
	ctx := context.Background()
	_, wallet := newWallet(t)
	intruder, _ := newWallet(t)

	n, err := svc.IssueNonce(ctx, wallet)
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	if _, _, err := svc.VerifyWallet(ctx, wallet, n.Nonce, SignPersonal(intruder, n.Message)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestNonceBoundToWallet(t *testing.T) {
	svc, _ := newTestService(t, time.Hour, time.Minute)
	ctx := context.Background()
	_, wallet := newWallet(t)
	otherPriv, other := newWallet(t)

	n, err := svc.IssueNonce(ctx, wallet)
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	if _, _, err := svc.VerifyWallet(ctx, other, n.Nonce, SignPersonal(otherPriv, n.Message)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected wallet mismatch, got %v", err)
	}
}

func TestSessionExpiration(t *testing.T) {
	svc, _ := newTestService(t, -time.Second, time.Minute)
	ctx := context.Background()
	priv, wallet := newWallet(t)

	n, err := svc.IssueNonce(ctx, wallet)
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	token, _, err := svc.VerifyWallet(ctx, wallet, n.Nonce, SignPersonal(priv, n.Message))
	if err != nil {
		t.Fatalf("verify wallet: %v", err)
	}
	if _, err := svc.Authenticate(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired session, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "not-a-token"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unknown token, got %v", err)
	}

	_, sessions, err := svc.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if sessions != 1 {
		t.Fatalf("expected 1 purged session, got %d", sessions)
	}
}

func TestVerifyWalletKey(t *testing.T) {
	svc, _ := newTestService(t, time.Hour, time.Minute)
	ctx := context.Background()
	priv, wallet := newWallet(t)
	pub := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	n, err := svc.IssueNonce(ctx, wallet)
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	compact := ecdsa.SignCompact(priv, ethereumPersonalHash([]byte(n.Message)), true)
	sig := hex.EncodeToString(compact[1:])

	if _, _, err := svc.VerifyWalletKey(ctx, wallet, pub, n.Nonce, sig); err != nil {
		t.Fatalf("verify wallet key: %v", err)
	}

	_, other := newWallet(t)
	if _, _, err := svc.VerifyWalletKey(ctx, other, pub, "unused", sig); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected key/wallet mismatch, got %v", err)
	}
}

func TestRecoverAddressAcceptsBothRecoveryForms(t *testing.T) {
	priv, wallet := newWallet(t)
	raw, err := decodeHex(SignPersonal(priv, "hello"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, offset := range []byte{0, 27} {
		sig := append([]byte(nil), raw...)
		sig[64] += offset
		got, err := RecoverAddress("hello", sig)
		if err != nil {
			t.Fatalf("recover (v+%d): %v", offset, err)
		}
		if got != wallet {
			t.Fatalf("expected %s, got %s", wallet, got)
		}
	}
	if _, err := RecoverAddress("hello", raw[:64]); err == nil {
		t.Fatalf("expected short signature to fail")
	}
}

func TestAgentAPIKey(t *testing.T) {
	svc, st := newTestService(t, time.Hour, time.Minute)
	ctx := context.Background()
	_, wallet := newWallet(t)

	key, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if !strings.HasPrefix(key, "agk_") || hash == key {
		t.Fatalf("unexpected key material %q", key)
	}
	agent := model.Agent{Name: "keyed", WalletAddress: wallet, APIKeyHash: hash}
	if err := st.CreateAgent(ctx, &agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	got, err := svc.AuthenticateAgent(ctx, agent.ID, key)
	if err != nil {
		t.Fatalf("authenticate agent: %v", err)
	}
	if got.ID != agent.ID {
		t.Fatalf("unexpected agent %s", got.ID)
	}
	if _, err := svc.AuthenticateAgent(ctx, agent.ID, "agk_wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected wrong key to fail, got %v", err)
	}
	if _, err := svc.AuthenticateAgent(ctx, "missing", key); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unknown agent to fail, got %v", err)
	}
}

type touchFailingStore struct {
	*sqlite.Store
}

func (touchFailingStore) TouchSession(ctx context.Context, tokenHash string, at time.Time) error {
	return errors.New("disk full")
}

func (touchFailingStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	return errors.New("disk full")
}

func TestTouchFailuresAreLogged(t *testing.T) {
	_, st := newTestService(t, time.Hour, time.Minute)
	svc := NewService(touchFailingStore{st}, time.Hour, time.Minute, "agentnet.test")
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	svc.SetLogger(log)
	ctx := context.Background()

	priv, wallet := newWallet(t)
	n, err := svc.IssueNonce(ctx, wallet)
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	token, _, err := svc.VerifyWallet(ctx, wallet, n.Nonce, SignPersonal(priv, n.Message))
	if err != nil {
		t.Fatalf("verify wallet: %v", err)
	}
	if _, err := svc.Authenticate(ctx, token); err != nil {
		t.Fatalf("authenticate must succeed when the touch fails: %v", err)
	}

	key, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	agent := model.Agent{Name: "toucher", WalletAddress: wallet, APIKeyHash: hash}
	if err := st.CreateAgent(ctx, &agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if _, err := svc.AuthenticateAgent(ctx, agent.ID, key); err != nil {
		t.Fatalf("authenticate agent must succeed when the touch fails: %v", err)
	}

	var messages []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.DebugLevel {
			messages = append(messages, e.Message)
		}
	}
	if len(messages) != 2 || messages[0] != "touch session" || messages[1] != "touch agent" {
		t.Fatalf("expected both touch failures logged at debug, got %v", messages)
	}
}
