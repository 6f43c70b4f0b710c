package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/BradenHooton/sessioncore/internal/repositories"
	"github.com/BradenHooton/sessioncore/internal/services"
	"github.com/stretchr/testify/require"
)

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	SignupFunc             func(ctx context.Context, in services.SignupInput) (*services.AuthResult, error)
	LoginFunc              func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error)
	ChangePasswordFunc     func(ctx context.Context, in services.ChangePasswordInput) (*auth.Session, error)
	Setup2FAFunc           func(ctx context.Context, userID string, enable bool) (*services.TwoFactorSetup, error)
	TwoFactorStatusFunc    func(ctx context.Context, userID string) (bool, error)
	UpdateLocalizationFunc func(ctx context.Context, userID, deviceKey string, client services.ClientInfo) (*services.Localization, error)
}

func (m *MockAuthService) Signup(ctx context.Context, in services.SignupInput) (*services.AuthResult, error) {
	return m.SignupFunc(ctx, in)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, in services.ChangePasswordInput) (*auth.Session, error) {
	return m.ChangePasswordFunc(ctx, in)
}

func (m *MockAuthService) Setup2FA(ctx context.Context, userID string, enable bool) (*services.TwoFactorSetup, error) {
	return m.Setup2FAFunc(ctx, userID, enable)
}

func (m *MockAuthService) TwoFactorStatus(ctx context.Context, userID string) (bool, error) {
	return m.TwoFactorStatusFunc(ctx, userID)
}

func (m *MockAuthService) UpdateLocalization(ctx context.Context, userID, deviceKey string, client services.ClientInfo) (*services.Localization, error) {
	return m.UpdateLocalizationFunc(ctx, userID, deviceKey, client)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	LogoutFunc           func(ctx context.Context, userID, deviceKey string) error
	LogoutDeviceFunc     func(ctx context.Context, userID, currentDeviceKey, target string) (bool, error)
	LogoutAllFunc        func(ctx context.Context, userID string) error
	RevokeSessionsFunc   func(ctx context.Context, actorID, targetID string) error
	GetActiveDevicesFunc func(ctx context.Context, userID, currentDeviceKey string) (*services.ActiveDevices, error)
}

func (m *MockSessionService) Logout(ctx context.Context, userID, deviceKey string) error {
	return m.LogoutFunc(ctx, userID, deviceKey)
}

func (m *MockSessionService) LogoutDevice(ctx context.Context, userID, currentDeviceKey, target string) (bool, error) {
	return m.LogoutDeviceFunc(ctx, userID, currentDeviceKey, target)
}

func (m *MockSessionService) LogoutAll(ctx context.Context, userID string) error {
	return m.LogoutAllFunc(ctx, userID)
}

func (m *MockSessionService) RevokeSessions(ctx context.Context, actorID, targetID string) error {
	return m.RevokeSessionsFunc(ctx, actorID, targetID)
}

func (m *MockSessionService) GetActiveDevices(ctx context.Context, userID, currentDeviceKey string) (*services.ActiveDevices, error) {
	return m.GetActiveDevicesFunc(ctx, userID, currentDeviceKey)
}

// MockRefresher implements Refresher for testing
type MockRefresher struct {
	RefreshFunc func(ctx context.Context, refreshToken, deviceKey string) (*models.Account, *auth.Session, error)
}

func (m *MockRefresher) Refresh(ctx context.Context, refreshToken, deviceKey string) (*models.Account, *auth.Session, error) {
	return m.RefreshFunc(ctx, refreshToken, deviceKey)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIssuer() *auth.SessionIssuer {
	tokens := auth.NewTokenManager("access-secret-for-tests-0123456789", "refresh-secret-for-tests-0123456789", "sessioncore", 15*time.Minute, 7*24*time.Hour)
	csrf := auth.NewCSRFGenerator("access-secret-for-tests-0123456789", 10*time.Minute)
	return auth.NewSessionIssuer(tokens, csrf, repositories.NewMemoryAccountRepository(), repositories.NewMemoryCSRFLedger(), auth.NewCookieConfig("", false), 5*24*time.Hour)
}

func testSession() *auth.Session {
	return &auth.Session{
		UserID:         "user-1",
		AccessToken:    "access",
		RefreshToken:   "refresh",
		DeviceKey:      "device-1",
		SessionVersion: 2,
		CSRF:           &models.CSRFToken{Token: "csrf-1", UserID: "user-1", ExpiresAt: time.Now().Add(10 * time.Minute)},
	}
}

func testIdentity() *auth.Identity {
	return &auth.Identity{UserID: "user-1", Role: models.RoleUser, SessionVersion: 2, DeviceKey: "device-1", CSRFToken: "csrf-next"}
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:4000"
	return req
}

func withIdentity(r *http.Request, id *auth.Identity) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), id))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func cookiesByName(w *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range w.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}
