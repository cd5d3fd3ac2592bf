package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matchwell/gatekeeper/internal/models"
)

const tokenRandomBytes = 32 // 256 bits of entropy in the random segment

// SessionToken is a parsed opaque session token. The wire format is
// id_timestamp_random: a UUID row id, the unix issue time, and a
// base64url random segment. Shape is checked before any storage lookup
// so malformed tokens are rejected cheaply.
type SessionToken struct {
	ID       string
	IssuedAt time.Time
	Random   string
}

// String renders the wire form.
func (t *SessionToken) String() string {
	return fmt.Sprintf("%s_%d_%s", t.ID, t.IssuedAt.Unix(), t.Random)
}

// Hash returns the hex SHA-256 of the full token. Only the hash is
// persisted; a leaked sessions table never yields usable tokens.
func (t *SessionToken) Hash() string {
	sum := sha256.Sum256([]byte(t.String()))
	return hex.EncodeToString(sum[:])
}

// NewSessionToken generates a fresh unguessable token.
func NewSessionToken() (*SessionToken, error) {
	random := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("failed to generate token randomness: %w", err)
	}

	return &SessionToken{
		ID:       uuid.New().String(),
		IssuedAt: time.Now().Truncate(time.Second),
		Random:   base64.RawURLEncoding.EncodeToString(random),
	}, nil
}

// ParseSessionToken validates the token's shape and returns its parts.
// Any deviation is ErrInvalidToken; shape failures never reach storage.
func ParseSessionToken(raw string) (*SessionToken, error) {
	parts := strings.Split(raw, "_")
	if len(parts) != 3 {
		return nil, models.ErrInvalidToken
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		return nil, models.ErrInvalidToken
	}

	issuedUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || issuedUnix <= 0 {
		return nil, models.ErrInvalidToken
	}

	random, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(random) != tokenRandomBytes {
		return nil, models.ErrInvalidToken
	}

	return &SessionToken{
		ID:       id.String(),
		IssuedAt: time.Unix(issuedUnix, 0),
		Random:   parts[2],
	}, nil
}

// VerifyTokenHash compares a presented token against a stored hash in
// constant time.
func VerifyTokenHash(token *SessionToken, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(token.Hash()), []byte(storedHash)) == 1
}
