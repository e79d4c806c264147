package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/voicegate-labs/voicegate/internal/config"
	"github.com/voicegate-labs/voicegate/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const alphabet = "ABCDEF0123456789"

// ErrNoToken indicates that no token is registered for the user id. Callers
// map it to a not-found outcome, distinct from a mismatching token.
var ErrNoToken = errors.New("no token registered for user")

// TokenStore issues and verifies per-user secret tokens. Tokens are persisted
// only as bcrypt digests; the plaintext is visible exactly once, at issuance.
type TokenStore struct {
	st  *store.Store
	cfg config.AuthConfig
	log *slog.Logger
}

func NewTokenStore(st *store.Store, cfg config.AuthConfig, log *slog.Logger) *TokenStore {
	return &TokenStore{
		st:  st,
		cfg: cfg,
		log: log.With(slog.String("component", "token-store")),
	}
}

// Generate draws length independent uniform samples from the token alphabet
// using a cryptographic source.
func Generate(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Issue generates a token of the configured length.
func (t *TokenStore) Issue() (string, error) {
	return Generate(t.cfg.TokenLength)
}

// Register upserts the token for the user id, invalidating any previous one.
func (t *TokenStore) Register(ctx context.Context, userID int64, token string) error {
	digest, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	_, err = t.st.DB().ExecContext(ctx,
		`INSERT INTO user_secrets(user_id, token, updated_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET token=excluded.token, updated_at=excluded.updated_at`,
		userID, string(digest), t.st.Now().UTC())
	if err != nil {
		return fmt.Errorf("register token: %w", err)
	}
	return nil
}

// Verify compares the supplied token against the stored digest. A missing
// registration yields ErrNoToken; a mismatch yields false with no error.
func (t *TokenStore) Verify(ctx context.Context, userID int64, token string) (bool, error) {
	digest, err := t.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	switch err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(token)); {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("compare token: %w", err)
	}
}

// Get returns the stored token digest without modifying state.
func (t *TokenStore) Get(ctx context.Context, userID int64) (string, error) {
	var digest string
	err := t.st.DB().QueryRowContext(ctx,
		`SELECT token FROM user_secrets WHERE user_id = ?`, userID).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	return digest, nil
}

// Rotate issues a fresh token for the user and registers it, returning the
// plaintext. The previous token stops verifying immediately.
func (t *TokenStore) Rotate(ctx context.Context, userID int64) (string, error) {
	token, err := t.Issue()
	if err != nil {
		return "", err
	}
	if err := t.Register(ctx, userID, token); err != nil {
		return "", err
	}
	t.log.Info("token rotated", slog.Int64("user_id", userID))
	return token, nil
}
