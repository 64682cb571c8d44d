package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

var (
	// ErrUnauthorized wraps every credential failure.
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidAddress = errors.New("walletAddress must be 0x followed by 40 hex characters")
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Store is the persistence the auth service needs.
type Store interface {
	store.AuthStore
	store.AgentStore
}

type Service struct {
	store        Store
	sessionTTL   time.Duration
	challengeTTL time.Duration
	domain       string
	now          func() time.Time
	log          logrus.FieldLogger
}

func NewService(st Store, sessionTTL, challengeTTL time.Duration, domain string) *Service {
	if domain == "" {
		domain = "localhost"
	}
	return &Service{
		store:        st,
		sessionTTL:   sessionTTL,
		challengeTTL: challengeTTL,
		domain:       domain,
		now:          time.Now,
		log:          logrus.StandardLogger(),
	}
}

// SetLogger replaces the logger used for best-effort bookkeeping failures.
func (s *Service) SetLogger(log logrus.FieldLogger) {
	s.log = log
}

// Principal is the wallet behind a valid session.
type Principal struct {
	WalletAddress string
	TokenHash     string
	ExpiresAt     time.Time
}

// NormalizeAddress validates and lowercases an Ethereum address.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !addressPattern.MatchString(addr) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(addr), nil
}

func (s *Service) IssueNonce(ctx context.Context, walletAddress string) (model.AuthNonce, error) {
	wallet, err := NormalizeAddress(walletAddress)
	if err != nil {
		return model.AuthNonce{}, err
	}
	nonce, err := randomToken(32)
	if err != nil {
		return model.AuthNonce{}, err
	}
	issued := s.now().UTC()
	n := model.AuthNonce{
		Nonce:         nonce,
		WalletAddress: wallet,
		ExpiresAt:     issued.Add(s.challengeTTL),
		CreatedAt:     issued,
	}
	n.Message = WalletChallenge(s.domain, wallet, nonce, issued, n.ExpiresAt)
	if err := s.store.CreateNonce(ctx, n); err != nil {
		return model.AuthNonce{}, err
	}
	return n, nil
}

// WalletChallenge is the text the wallet signs with personal_sign.
func WalletChallenge(domain, wallet, nonce string, issuedAt, expiresAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", domain)
	fmt.Fprintf(&b, "%s\n\n", wallet)
	b.WriteString("Sign in to agentnet.\n\n")
	fmt.Fprintf(&b, "Nonce: %s\n", nonce)
	fmt.Fprintf(&b, "Issued At: %s\n", issuedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Expiration Time: %s", expiresAt.UTC().Format(time.RFC3339))
	return b.String()
}

// VerifyWallet consumes the nonce, checks the signature against the wallet
// and opens a session. The returned token is the only copy of the bearer
// value.
func (s *Service) VerifyWallet(ctx context.Context, walletAddress, nonce, signature string) (string, model.Session, error) {
	wallet, err := NormalizeAddress(walletAddress)
	if err != nil {
		return "", model.Session{}, err
	}
	n, err := s.store.ConsumeNonce(ctx, nonce)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", model.Session{}, fmt.Errorf("%w: unknown nonce", ErrUnauthorized)
		}
		return "", model.Session{}, err
	}
	if !s.now().Before(n.ExpiresAt) {
		return "", model.Session{}, fmt.Errorf("%w: nonce expired", ErrUnauthorized)
	}
	if n.WalletAddress != wallet {
		return "", model.Session{}, fmt.Errorf("%w: nonce was issued to another wallet", ErrUnauthorized)
	}
	if err := VerifySignature(AlgEthereum, wallet, n.Message, signature); err != nil {
		return "", model.Session{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return s.openSession(ctx, wallet)
}

// VerifyWalletKey is VerifyWallet for callers that present the raw secp256k1
// public key instead of a recoverable signature. The key must hash to the
// wallet address.
func (s *Service) VerifyWalletKey(ctx context.Context, walletAddress, publicKey, nonce, signature string) (string, model.Session, error) {
	wallet, err := NormalizeAddress(walletAddress)
	if err != nil {
		return "", model.Session{}, err
	}
	derived, err := AddressFromPublicKey(publicKey)
	if err != nil {
		return "", model.Session{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if derived != wallet {
		return "", model.Session{}, fmt.Errorf("%w: public key does not match wallet", ErrUnauthorized)
	}
	n, err := s.store.ConsumeNonce(ctx, nonce)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", model.Session{}, fmt.Errorf("%w: unknown nonce", ErrUnauthorized)
		}
		return "", model.Session{}, err
	}
	if !s.now().Before(n.ExpiresAt) {
		return "", model.Session{}, fmt.Errorf("%w: nonce expired", ErrUnauthorized)
	}
	if n.WalletAddress != wallet {
		return "", model.Session{}, fmt.Errorf("%w: nonce was issued to another wallet", ErrUnauthorized)
	}
	if err := VerifySignature(AlgSecp256k1, publicKey, n.Message, signature); err != nil {
		return "", model.Session{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return s.openSession(ctx, wallet)
}

func (s *Service) openSession(ctx context.Context, wallet string) (string, model.Session, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", model.Session{}, err
	}
	now := s.now().UTC()
	sess := model.Session{
		TokenHash:     HashToken(token),
		WalletAddress: wallet,
		ExpiresAt:     now.Add(s.sessionTTL),
		CreatedAt:     now,
		LastUsedAt:    now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return "", model.Session{}, err
	}
	return token, sess, nil
}

func (s *Service) Authenticate(ctx context.Context, bearer string) (Principal, error) {
	if bearer == "" {
		return Principal{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	now := s.now()
	hash := HashToken(bearer)
	sess, err := s.store.GetSession(ctx, hash, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Principal{}, fmt.Errorf("%w: invalid or expired session", ErrUnauthorized)
		}
		return Principal{}, err
	}
	if err := s.store.TouchSession(ctx, hash, now.UTC()); err != nil {
		s.log.WithError(err).Debug("touch session")
	}
	return Principal{WalletAddress: sess.WalletAddress, TokenHash: hash, ExpiresAt: sess.ExpiresAt}, nil
}

func (s *Service) Revoke(ctx context.Context, bearer string) error {
	err := s.store.DeleteSession(ctx, HashToken(bearer))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: invalid session", ErrUnauthorized)
	}
	return err
}

// PurgeExpired drops nonces and sessions that can no longer be used.
func (s *Service) PurgeExpired(ctx context.Context) (int64, int64, error) {
	return s.store.PurgeExpired(ctx, s.now())
}

// HashToken is the storage key for a bearer value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
