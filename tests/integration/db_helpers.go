package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/matchwell/gatekeeper/internal/config"
	"github.com/matchwell/gatekeeper/internal/database"
	"github.com/matchwell/gatekeeper/internal/models"
	"github.com/matchwell/gatekeeper/internal/repositories"
)

// TestDB manages the PostgreSQL testcontainer and database connection.
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
}

// SetupTestDatabase starts a PostgreSQL container, connects through the
// production connection path, and runs the embedded migrations.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("gatekeeper_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	dbConfig, err := databaseConfigFromURL(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	db, err := database.NewConnection(dbConfig, logger)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{Container: container, DB: db}, nil
}

// databaseConfigFromURL translates the container's connection URL into the
// config shape the production connection path expects.
func databaseConfigFromURL(connStr string) (*config.DatabaseConfig, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to split host and port: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	password, _ := u.User.Password()

	return &config.DatabaseConfig{
		Host:              host,
		Port:              port,
		User:              u.User.Username(),
		Password:          password,
		Name:              "gatekeeper_test",
		SSLMode:           "disable",
		MaxConns:          5,
		MinConns:          1,
		MaxConnLifetime:   5 * time.Minute,
		MaxConnIdleTime:   1 * time.Minute,
		HealthCheckPeriod: 1 * time.Minute,
		QueryTimeout:      3 * time.Second,
	}, nil
}

// Teardown closes the pool and stops the container.
func (tdb *TestDB) Teardown(ctx context.Context) error {
	if tdb.DB != nil {
		tdb.DB.Close()
	}
	if tdb.Container != nil {
		return tdb.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation.
func (tdb *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"audit_logs",
		"sessions",
		"device_trust",
		"blocks",
		"attempts",
		"subjects",
	}

	for _, table := range tables {
		if _, err := tdb.DB.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// SeedSubject inserts a subject with a hashed password. MinCost keeps the
// repeated logins in these tests fast; the cost is embedded in the hash,
// so the production compare path is unaffected.
func SeedSubject(ctx context.Context, subjects *repositories.SubjectRepository, email, password string, admin bool) (*models.Subject, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return subjects.Create(ctx, &models.Subject{
		Email:        email,
		PasswordHash: string(hash),
		Active:       true,
		Admin:        admin,
	})
}
