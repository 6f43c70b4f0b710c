package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/BradenHooton/sessioncore/internal/geo"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/BradenHooton/sessioncore/internal/repositories"
	pkglogger "github.com/BradenHooton/sessioncore/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword  = "SecureP@ss123"
	testUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	testIP        = "203.0.113.7"
)

var testTOTPKey = []byte("0123456789abcdef0123456789abcdef")

// MockMailer implements Mailer for testing
type MockMailer struct {
	mu         sync.Mutex
	Lockouts   []string
	NewDevices []DeviceAlert
	SendErr    error
}

func (m *MockMailer) SendLockoutAlert(ctx context.Context, to, username string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lockouts = append(m.Lockouts, to)
	return m.SendErr
}

func (m *MockMailer) SendNewDeviceAlert(ctx context.Context, to, username string, device DeviceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NewDevices = append(m.NewDevices, device)
	return m.SendErr
}

type publishedEvent struct {
	UserID string
	Type   string
	Data   any
}

// MockEventPublisher records published events and disconnects.
type MockEventPublisher struct {
	mu          sync.Mutex
	Events      []publishedEvent
	Disconnects []string // userID/deviceKey
}

func (m *MockEventPublisher) Publish(userID, eventType string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, publishedEvent{UserID: userID, Type: eventType, Data: data})
}

func (m *MockEventPublisher) DisconnectUser(userID, deviceKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Disconnects = append(m.Disconnects, userID+"/"+deviceKey)
	return 1
}

func (m *MockEventPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.Events))
	for _, e := range m.Events {
		types = append(types, e.Type)
	}
	return types
}

// MockLoginObserver records login outcomes.
type MockLoginObserver struct {
	Outcomes []string
}

func (m *MockLoginObserver) ObserveLogin(outcome string) {
	m.Outcomes = append(m.Outcomes, outcome)
}

// MockLocator implements geo.Locator with a fixed answer.
type MockLocator struct {
	LocateFunc func(ctx context.Context, ip string) geo.Location
}

func (m *MockLocator) Locate(ctx context.Context, ip string) geo.Location {
	if m.LocateFunc != nil {
		return m.LocateFunc(ctx, ip)
	}
	return geo.Location{Country: "Portugal", State: "Lisbon", City: "Lisbon", LocalTime: "2026-01-01T10:00:00Z", Language: "pt"}
}

// MockAccountRepository wraps the in-memory store and lets tests override
// single methods.
type MockAccountRepository struct {
	*repositories.MemoryAccountRepository
	SaveFunc func(ctx context.Context, account *models.Account) error
}

func (m *MockAccountRepository) Save(ctx context.Context, account *models.Account) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, account)
	}
	return m.MemoryAccountRepository.Save(ctx, account)
}

type testEnv struct {
	accounts *MockAccountRepository
	ledger   *repositories.MemoryCSRFLedger
	issuer   *auth.SessionIssuer
	totp     *auth.TOTPManager
	mailer   *MockMailer
	events   *MockEventPublisher
	observer *MockLoginObserver
	auth     *AuthService
	sessions *SessionService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		accounts: &MockAccountRepository{MemoryAccountRepository: repositories.NewMemoryAccountRepository()},
		ledger:   repositories.NewMemoryCSRFLedger(),
		mailer:   &MockMailer{},
		events:   &MockEventPublisher{},
		observer: &MockLoginObserver{},
	}

	tokens := auth.NewTokenManager("access-secret-for-tests-0123456789", "refresh-secret-for-tests-0123456789", "sessioncore", 15*time.Minute, 7*24*time.Hour)
	csrf := auth.NewCSRFGenerator("access-secret-for-tests-0123456789", 10*time.Minute)
	env.issuer = auth.NewSessionIssuer(tokens, csrf, env.accounts, env.ledger, auth.NewCookieConfig("", false), 5*24*time.Hour)

	totp, err := auth.NewTOTPManager(testTOTPKey, "sessioncore")
	require.NoError(t, err)
	env.totp = totp

	logger := discardLogger()
	audit := pkglogger.NewAuditLogger(logger)

	env.auth = NewAuthService(AuthDeps{
		Accounts: env.accounts,
		Issuer:   env.issuer,
		TOTP:     totp,
		Locator:  &MockLocator{},
		Mailer:   env.mailer,
		Events:   env.events,
		Observer: env.observer,
	}, AuthConfig{MaxDevices: 5, MaxFailedLogins: 5, LockoutDuration: 15 * time.Minute, BcryptCost: bcrypt.MinCost}, logger, audit)

	env.sessions = NewSessionService(env.accounts, env.ledger, env.events, logger, audit)
	return env
}

func (e *testEnv) signup(t *testing.T, username, email string) *AuthResult {
	t.Helper()
	res, err := e.auth.Signup(context.Background(), SignupInput{
		Name:     "Test User",
		Username: username,
		Email:    email,
		Password: testPassword,
		Client:   ClientInfo{IP: testIP, UserAgent: testUserAgent},
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) login(t *testing.T, identifier, ip string) *AuthResult {
	t.Helper()
	res, err := e.auth.Login(context.Background(), LoginInput{
		Identifier: identifier,
		Password:   testPassword,
		Client:     ClientInfo{IP: ip, UserAgent: testUserAgent},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	return res
}

func (e *testEnv) account(t *testing.T, id string) *models.Account {
	t.Helper()
	account, err := e.accounts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return account
}

func assertAppError(t *testing.T, err error, kind models.Kind, message string) *models.Error {
	t.Helper()
	require.Error(t, err)
	appErr := models.AsError(err)
	assert.Equal(t, kind, appErr.Kind, "kind")
	if message != "" {
		assert.Equal(t, message, appErr.Message)
	}
	return appErr
}
