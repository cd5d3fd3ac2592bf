package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/matchwell/gatekeeper/internal/models"
)

// ChallengeClaims binds a pending second-factor step to the subject and
// the device fingerprint the login arrived from. A challenge token is
// single-purpose: it cannot authenticate a request on its own.
type ChallengeClaims struct {
	Subject     string `json:"sub_email"`
	Fingerprint string `json:"fingerprint"`
	jwt.RegisteredClaims
}

// ChallengeManager issues and verifies the short-lived signed tokens that
// carry login state between the credential check and the second-factor
// completion call.
type ChallengeManager struct {
	secret []byte
	ttl    time.Duration
}

// NewChallengeManager creates a new ChallengeManager
func NewChallengeManager(secret string, ttl time.Duration) *ChallengeManager {
	return &ChallengeManager{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Issue creates a challenge token for (subject, fingerprint).
func (cm *ChallengeManager) Issue(subject, fingerprint string) (string, error) {
	now := time.Now()
	claims := &ChallengeClaims{
		Subject:     subject,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(cm.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge token: %w", err)
	}

	return signed, nil
}

// Verify parses a challenge token and returns its claims. Expired or
// tampered tokens come back as ErrInvalidToken.
func (cm *ChallengeManager) Verify(tokenString string) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cm.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, models.ErrInvalidToken
	}

	if claims.Subject == "" || claims.Fingerprint == "" {
		return nil, models.ErrInvalidToken
	}

	return claims, nil
}
