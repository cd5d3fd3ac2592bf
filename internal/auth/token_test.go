package auth

import (
	"strings"
	"testing"

	"github.com/matchwell/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionToken_ShapeAndEntropy(t *testing.T) {
	token, err := NewSessionToken()
	require.NoError(t, err)

	parts := strings.Split(token.String(), "_")
	require.Len(t, parts, 3)
	assert.NotEmpty(t, token.ID)
	assert.False(t, token.IssuedAt.IsZero())
	// 32 random bytes encode to 43 base64url characters
	assert.Len(t, token.Random, 43)
}

func TestNewSessionToken_Unique(t *testing.T) {
	a, err := NewSessionToken()
	require.NoError(t, err)
	b, err := NewSessionToken()
	require.NoError(t, err)

	assert.NotEqual(t, a.String(), b.String())
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestParseSessionToken_RoundTrip(t *testing.T) {
	token, err := NewSessionToken()
	require.NoError(t, err)

	parsed, err := ParseSessionToken(token.String())
	require.NoError(t, err)

	assert.Equal(t, token.ID, parsed.ID)
	assert.Equal(t, token.IssuedAt.Unix(), parsed.IssuedAt.Unix())
	assert.Equal(t, token.Random, parsed.Random)
	assert.Equal(t, token.Hash(), parsed.Hash())
}

func TestParseSessionToken_RejectsMalformed(t *testing.T) {
	token, err := NewSessionToken()
	require.NoError(t, err)
	wire := token.String()

	parts := strings.Split(wire, "_")
	malformed := []string{
		"",
		"a_b",
		"a_b_c_d",
		"not-a-uuid_" + parts[1] + "_" + parts[2],
		parts[0] + "_nottime_" + parts[2],
		parts[0] + "_-5_" + parts[2],
		// random segment truncated below 256 bits
		wire[:len(wire)-10],
	}
	for _, raw := range malformed {
		_, err := ParseSessionToken(raw)
		assert.ErrorIs(t, err, models.ErrInvalidToken, "token %q", raw)
	}
}

func TestVerifyTokenHash(t *testing.T) {
	token, err := NewSessionToken()
	require.NoError(t, err)
	other, err := NewSessionToken()
	require.NoError(t, err)

	assert.True(t, VerifyTokenHash(token, token.Hash()))
	assert.False(t, VerifyTokenHash(token, other.Hash()))
}
