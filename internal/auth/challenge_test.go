package auth

import (
	"testing"
	"time"

	"github.com/matchwell/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeManager_RoundTrip(t *testing.T) {
	cm := NewChallengeManager("test-secret-test-secret-test-secret", 5*time.Minute)

	token, err := cm.Issue("user@example.com", "fp_abc")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := cm.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.Subject)
	assert.Equal(t, "fp_abc", claims.Fingerprint)
}

func TestChallengeManager_RejectsExpired(t *testing.T) {
	cm := NewChallengeManager("test-secret-test-secret-test-secret", -1*time.Minute)

	token, err := cm.Issue("user@example.com", "fp_abc")
	require.NoError(t, err)

	_, err = cm.Verify(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestChallengeManager_RejectsWrongSecret(t *testing.T) {
	issuer := NewChallengeManager("secret-one-secret-one-secret-one", 5*time.Minute)
	verifier := NewChallengeManager("secret-two-secret-two-secret-two", 5*time.Minute)

	token, err := issuer.Issue("user@example.com", "fp_abc")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestChallengeManager_RejectsGarbage(t *testing.T) {
	cm := NewChallengeManager("test-secret-test-secret-test-secret", 5*time.Minute)

	for _, raw := range []string{"", "garbage", "a.b.c"} {
		_, err := cm.Verify(raw)
		assert.ErrorIs(t, err, models.ErrInvalidToken, "token %q", raw)
	}
}
