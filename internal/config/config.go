package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Policy   PolicyConfig
	Session  SessionConfig
	Trust    TrustConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	// QueryTimeout bounds every durable call made by the core; no operation
	// may block indefinitely on storage.
	QueryTimeout time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
	AllowedOrigins []string
}

// PolicyConfig carries the lockout thresholds. The observed policy is the
// default, but nothing in the policy engine hard-codes these numbers.
type PolicyConfig struct {
	ShortTermThreshold int
	ShortTermWindow    time.Duration
	ShortTermBlock     time.Duration
	DailyThreshold     int
	DailyWindow        time.Duration
	DailyBlock         time.Duration
	// AttemptRetention controls how long attempt rows outlive the longest
	// window for audit purposes.
	AttemptRetention time.Duration
	SweepInterval    time.Duration
	// Timing delay applied to failed authentication attempts.
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
}

type SessionConfig struct {
	TTL time.Duration
	// ValidationCacheTTL bounds how long a positive validation may be served
	// from the in-process cache without re-reading the durable store.
	ValidationCacheTTL time.Duration
	ValidationCacheMax int
	// ChallengeSecret signs the short-lived second-factor challenge tokens.
	ChallengeSecret string
	ChallengeTTL    time.Duration
}

type TrustConfig struct {
	// Duration is fixed at record creation; trust is re-earned after
	// expiry, never extended in place.
	Duration time.Duration
	// SecondFactorIssuer names this service in authenticator apps.
	SecondFactorIssuer string
	// SecondFactorKey encrypts stored TOTP secrets; must be 32 bytes.
	SecondFactorKey string
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	challengeSecret := getEnv("CHALLENGE_SECRET", "")
	if challengeSecret == "" {
		return nil, fmt.Errorf("CHALLENGE_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatekeeper"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			QueryTimeout:      getEnvAsDuration("DB_QUERY_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: parseTrustedProxies(),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Policy: PolicyConfig{
			ShortTermThreshold:  getEnvAsInt("LOCKOUT_SHORT_TERM_THRESHOLD", 5),
			ShortTermWindow:     getEnvAsDuration("LOCKOUT_SHORT_TERM_WINDOW", 1*time.Hour),
			ShortTermBlock:      getEnvAsDuration("LOCKOUT_SHORT_TERM_BLOCK", 5*time.Hour),
			DailyThreshold:      getEnvAsInt("LOCKOUT_DAILY_THRESHOLD", 10),
			DailyWindow:         getEnvAsDuration("LOCKOUT_DAILY_WINDOW", 24*time.Hour),
			DailyBlock:          getEnvAsDuration("LOCKOUT_DAILY_BLOCK", 24*time.Hour),
			AttemptRetention:    getEnvAsDuration("ATTEMPT_RETENTION", 48*time.Hour),
			SweepInterval:       getEnvAsDuration("SWEEP_INTERVAL", 1*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
		},
		Session: SessionConfig{
			TTL:                getEnvAsDuration("SESSION_TTL", 12*time.Hour),
			ValidationCacheTTL: getEnvAsDuration("SESSION_CACHE_TTL", 10*time.Second),
			ValidationCacheMax: getEnvAsInt("SESSION_CACHE_MAX", 10000),
			ChallengeSecret:    challengeSecret,
			ChallengeTTL:       getEnvAsDuration("CHALLENGE_TTL", 5*time.Minute),
		},
		Trust: TrustConfig{
			Duration:           getEnvAsDuration("DEVICE_TRUST_DURATION", 2*time.Hour),
			SecondFactorIssuer: getEnv("SECOND_FACTOR_ISSUER", "Matchwell"),
			SecondFactorKey:    getEnv("SECOND_FACTOR_KEY", ""),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateChallengeSecret(challengeSecret, env); err != nil {
		return nil, err
	}

	if err := validatePolicy(&cfg.Policy); err != nil {
		return nil, err
	}

	if cfg.Email.Enabled && cfg.Email.FromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM is required when EMAIL_ENABLED is true")
	}

	return cfg, nil
}

// validateChallengeSecret enforces minimum strength for the challenge
// token signing secret.
func validateChallengeSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("CHALLENGE_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("CHALLENGE_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// validatePolicy rejects threshold combinations that can never trigger.
func validatePolicy(p *PolicyConfig) error {
	if p.ShortTermThreshold < 1 || p.DailyThreshold < 1 {
		return fmt.Errorf("lockout thresholds must be at least 1")
	}
	if p.ShortTermWindow >= p.DailyWindow {
		return fmt.Errorf("short-term window must be shorter than the daily window")
	}
	if p.AttemptRetention < p.DailyWindow {
		return fmt.Errorf("attempt retention must cover the daily window")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		raw := getEnv("ALLOWED_ORIGINS", "")
		if raw == "" {
			return []string{}
		}
		origins := strings.Split(raw, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}

func parseTrustedProxies() []string {
	raw := getEnv("TRUSTED_PROXIES", "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
