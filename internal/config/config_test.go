package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("CHALLENGE_SECRET", "a-long-enough-development-secret")
	t.Setenv("DB_PASSWORD", "postgres")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Policy.ShortTermThreshold)
	assert.Equal(t, 1*time.Hour, cfg.Policy.ShortTermWindow)
	assert.Equal(t, 5*time.Hour, cfg.Policy.ShortTermBlock)
	assert.Equal(t, 10, cfg.Policy.DailyThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Policy.DailyWindow)
	assert.Equal(t, 24*time.Hour, cfg.Policy.DailyBlock)
	assert.Equal(t, 2*time.Hour, cfg.Trust.Duration)
	assert.Equal(t, 10*time.Second, cfg.Session.ValidationCacheTTL)
}

func TestLoad_MissingChallengeSecret(t *testing.T) {
	t.Setenv("CHALLENGE_SECRET", "")
	t.Setenv("DB_PASSWORD", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MissingDBPassword(t *testing.T) {
	t.Setenv("CHALLENGE_SECRET", "a-long-enough-development-secret")
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_WeakChallengeSecretInProduction(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("CHALLENGE_SECRET", "short-secret")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_PolicyOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOCKOUT_SHORT_TERM_THRESHOLD", "3")
	t.Setenv("LOCKOUT_SHORT_TERM_BLOCK", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Policy.ShortTermThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Policy.ShortTermBlock)
}

func TestLoad_RejectsInvertedWindows(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOCKOUT_SHORT_TERM_WINDOW", "48h")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_TrustedProxies(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.0/16")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.Server.TrustedProxies)
}
