package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/matchwell/gatekeeper/internal/auth"
	"github.com/matchwell/gatekeeper/internal/database"
	"github.com/matchwell/gatekeeper/internal/handlers"
	middlewareCustom "github.com/matchwell/gatekeeper/internal/middleware"
	"github.com/matchwell/gatekeeper/internal/repositories"
	"github.com/matchwell/gatekeeper/internal/routes"
	"github.com/matchwell/gatekeeper/internal/services"
	pkghttp "github.com/matchwell/gatekeeper/pkg/http"
	pkglogger "github.com/matchwell/gatekeeper/pkg/logger"
)

const (
	testChallengeSecret   = "integration-challenge-secret-0001"
	testSecondFactorKey   = "0123456789abcdef0123456789abcdef"
	testSecondFactorIssue = "GatekeeperTest"
)

// testApp holds the wired application plus the services the tests reach
// into for seeding and assertions.
type testApp struct {
	Router       chi.Router
	Subjects     *repositories.SubjectRepository
	Attempts     *repositories.AttemptRepository
	Blocks       *services.BlockService
	BlockRepo    *repositories.BlockRepository
	Trust        *services.DeviceTrustService
	SecondFactor *auth.SecondFactorManager
	Notifier     *services.MockNotificationSink
}

// newTestApp wires the full stack against the given database, mirroring
// production wiring with test-friendly policy values and zero timing
// delay.
func newTestApp(db *database.DB) (*testApp, error) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	subjectRepo := repositories.NewSubjectRepository(db)
	attemptRepo := repositories.NewAttemptRepository(db)
	blockRepo := repositories.NewBlockRepository(db)
	trustRepo := repositories.NewDeviceTrustRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	auditService := services.NewAuditService(auditRepo, pkglogger.NewAuditLogger(logger), logger)

	lockoutConfig := services.LockoutConfig{
		ShortTermThreshold: 5,
		ShortTermWindow:    1 * time.Hour,
		ShortTermBlock:     5 * time.Hour,
		DailyThreshold:     10,
		DailyWindow:        24 * time.Hour,
		DailyBlock:         24 * time.Hour,
	}
	lockoutPolicy := services.NewLockoutPolicy(lockoutConfig)
	ledgerService := services.NewLedgerService(attemptRepo, lockoutConfig, 48*time.Hour, logger)
	blockService := services.NewBlockService(blockRepo, auditService, logger)
	trustService := services.NewDeviceTrustService(trustRepo, auditService, 2*time.Hour, logger)

	sessionService := services.NewSessionService(sessionRepo, subjectRepo, services.SessionConfig{
		TTL:      12 * time.Hour,
		CacheTTL: 10 * time.Second,
		CacheMax: 1000,
	}, logger)

	challengeManager := auth.NewChallengeManager(testChallengeSecret, 5*time.Minute)
	secondFactorManager, err := auth.NewSecondFactorManager([]byte(testSecondFactorKey), testSecondFactorIssue)
	if err != nil {
		return nil, err
	}

	notifier := &services.MockNotificationSink{}

	gate := services.NewAuthGate(services.AuthGateDeps{
		Ledger:       ledgerService,
		Policy:       lockoutPolicy,
		Blocks:       blockService,
		Trust:        trustService,
		Sessions:     sessionService,
		Verifier:     services.NewPasswordVerifier(subjectRepo, logger),
		Challenge:    challengeManager,
		SecondFactor: secondFactorManager,
		Subjects:     subjectRepo,
		Audit:        auditService,
		Notify:       notifier,
		Timing:       auth.NewTimingDelay(auth.TimingConfig{}),
		Logger:       logger,
	})

	adminService := services.NewAdminService(blockService, trustService, auditService, subjectRepo, sessionService, secondFactorManager, logger)

	authHandler := handlers.NewAuthHandler(gate, &pkghttp.IPConfig{})
	adminHandler := handlers.NewAdminHandler(adminService)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	router.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(router, authHandler, adminHandler, sessionService)

	return &testApp{
		Router:       router,
		Subjects:     subjectRepo,
		Attempts:     attemptRepo,
		Blocks:       blockService,
		BlockRepo:    blockRepo,
		Trust:        trustService,
		SecondFactor: secondFactorManager,
		Notifier:     notifier,
	}, nil
}

// request describes one HTTP call through the router.
type request struct {
	Method     string
	Path       string
	Body       any
	RemoteAddr string
	UserAgent  string
	Token      string
}

// do executes the request against the in-process router.
func (app *testApp) do(req request) *httptest.ResponseRecorder {
	var body io.Reader
	if req.Body != nil {
		payload, _ := json.Marshal(req.Body)
		body = bytes.NewReader(payload)
	}

	httpReq := httptest.NewRequest(req.Method, req.Path, body)
	if req.RemoteAddr != "" {
		httpReq.RemoteAddr = req.RemoteAddr
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httpReq)
	return rec
}

func decodeJSON[T any](rec *httptest.ResponseRecorder) (T, error) {
	var out T
	err := json.NewDecoder(rec.Body).Decode(&out)
	return out, err
}
