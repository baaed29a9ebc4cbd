package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const contextKeyWallet contextKey = "session_wallet"

const (
	sessionIssuer   = "positiond"
	sessionAudience = "kapan-api"
)

var (
	ErrNonceUnknown     = errors.New("session: nonce unknown or already used")
	ErrSignatureInvalid = errors.New("session: signature does not match wallet")
)

// SessionManager issues wallet sessions: the wallet signs a server nonce with
// personal_sign and receives a bearer token scoped to that address.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	nonces map[common.Address]string
}

// NewSessionManager constructs the manager. The secret signs HS256 tokens and
// must be at least 32 bytes.
func NewSessionManager(secret string, ttl time.Duration) (*SessionManager, error) {
	trimmed := strings.TrimSpace(secret)
	if len(trimmed) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{
		secret: []byte(trimmed),
		ttl:    ttl,
		now:    time.Now,
		nonces: make(map[common.Address]string),
	}, nil
}

// IssueNonce creates the single-use nonce the wallet must sign. Issuing again
// for the same wallet replaces the previous nonce.
func (m *SessionManager) IssueNonce(wallet common.Address) (string, error) {
	if m == nil {
		return "", fmt.Errorf("session manager not configured")
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)
	m.mu.Lock()
	m.nonces[wallet] = nonce
	m.mu.Unlock()
	return nonce, nil
}

// ChallengeMessage renders the exact text the wallet signs.
func ChallengeMessage(wallet common.Address, nonce string) string {
	return fmt.Sprintf("positiond session\nwallet: %s\nnonce: %s", strings.ToLower(wallet.Hex()), nonce)
}

// Verify checks a personal_sign signature over the challenge and consumes the
// nonce. On success it returns a bearer token bound to the wallet.
func (m *SessionManager) Verify(wallet common.Address, nonce, signature string) (string, time.Time, error) {
	if m == nil {
		return "", time.Time{}, fmt.Errorf("session manager not configured")
	}
	m.mu.Lock()
	issued, ok := m.nonces[wallet]
	if ok && issued == nonce {
		delete(m.nonces, wallet)
	}
	m.mu.Unlock()
	if !ok || issued != nonce {
		return "", time.Time{}, ErrNonceUnknown
	}

	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", time.Time{}, fmt.Errorf("session: signature must be %d bytes", crypto.SignatureLength)
	}
	// wallets emit the legacy 27/28 recovery id
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte{}, sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}
	digest := accounts.TextHash([]byte(ChallengeMessage(wallet, nonce)))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: recover signer: %w", err)
	}
	if crypto.PubkeyToAddress(*pub) != wallet {
		return "", time.Time{}, ErrSignatureInvalid
	}
	return m.issueToken(wallet)
}

func (m *SessionManager) issueToken(wallet common.Address) (string, time.Time, error) {
	now := m.now().UTC()
	expires := now.Add(m.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": strings.ToLower(wallet.Hex()),
		"iss": sessionIssuer,
		"aud": sessionAudience,
		"iat": now.Unix(),
		"exp": expires.Unix(),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return signed, expires, nil
}

// VerifyToken validates a bearer token and returns the bound wallet.
func (m *SessionManager) VerifyToken(token string) (common.Address, error) {
	if m == nil {
		return common.Address{}, fmt.Errorf("session manager not configured")
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithAudience(sessionAudience),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	if err != nil {
		return common.Address{}, err
	}
	if !parsed.Valid {
		return common.Address{}, fmt.Errorf("session: token validation failed")
	}
	subject, _ := claims["sub"].(string)
	if !common.IsHexAddress(subject) {
		return common.Address{}, fmt.Errorf("session: token subject missing")
	}
	return common.HexToAddress(subject), nil
}

// Middleware enforces a valid bearer token and stamps the wallet into the
// request context.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if authz == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "invalid authorization scheme", http.StatusUnauthorized)
			return
		}
		wallet, err := m.VerifyToken(strings.TrimSpace(parts[1]))
		if err != nil {
			http.Error(w, "invalid session token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyWallet, wallet)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WalletFromContext extracts the session wallet attached by Middleware.
func WalletFromContext(ctx context.Context) (common.Address, error) {
	if ctx == nil {
		return common.Address{}, errors.New("missing context")
	}
	wallet, ok := ctx.Value(contextKeyWallet).(common.Address)
	if !ok || wallet == (common.Address{}) {
		return common.Address{}, errors.New("missing session wallet in context")
	}
	return wallet, nil
}
