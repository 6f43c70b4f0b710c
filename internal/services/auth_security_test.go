package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BradenHooton/sessioncore/internal/geo"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/BradenHooton/sessioncore/internal/realtime"
	pkgauth "github.com/BradenHooton/sessioncore/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_ChangePassword_Success(t *testing.T) {
	env := newTestEnv(t)
	signup := env.signup(t, "alice", "alice@example.com")
	other := env.login(t, "alice", "198.51.100.20")
	before := env.account(t, signup.Account.ID).SessionVersion

	session, err := env.auth.ChangePassword(context.Background(), ChangePasswordInput{
		UserID:          signup.Account.ID,
		DeviceKey:       signup.Session.DeviceKey,
		CurrentPassword: testPassword,
		NewPassword:     "Brand#New9pass",
	})
	require.NoError(t, err)
	assert.Equal(t, signup.Session.DeviceKey, session.DeviceKey)

	stored := env.account(t, signup.Account.ID)
	assert.Equal(t, before+1, stored.SessionVersion)
	assert.Equal(t, stored.SessionVersion, session.SessionVersion)
	assert.NoError(t, pkgauth.ComparePassword(stored.PasswordHash, "Brand#New9pass"))
	assert.GreaterOrEqual(t, stored.ActiveDevice(signup.Session.DeviceKey), 0)
	assert.Equal(t, -1, stored.ActiveDevice(other.Session.DeviceKey))

	assert.Contains(t, env.events.Disconnects, signup.Account.ID+"/"+other.Session.DeviceKey)
	assert.Contains(t, env.events.Types(), realtime.EventPasswordChanged)
}

func TestAuthService_ChangePassword_Rejections(t *testing.T) {
	env := newTestEnv(t)
	signup := env.signup(t, "alice", "alice@example.com")

	base := ChangePasswordInput{UserID: signup.Account.ID, DeviceKey: signup.Session.DeviceKey}

	t.Run("wrong current", func(t *testing.T) {
		in := base
		in.CurrentPassword = "Wrong@Pass1"
		in.NewPassword = "Brand#New9pass"
		_, err := env.auth.ChangePassword(context.Background(), in)
		assertAppError(t, err, models.KindAuthentication, "Current password is incorrect")
	})

	t.Run("same as current", func(t *testing.T) {
		in := base
		in.CurrentPassword = testPassword
		in.NewPassword = testPassword
		_, err := env.auth.ChangePassword(context.Background(), in)
		assertAppError(t, err, models.KindValidation, "New password cannot be the same as current")
	})

	t.Run("weak", func(t *testing.T) {
		in := base
		in.CurrentPassword = testPassword
		in.NewPassword = "weakpass"
		_, err := env.auth.ChangePassword(context.Background(), in)
		appErr := assertAppError(t, err, models.KindValidation, "")
		assert.Equal(t, pkgauth.PolicyMessage, appErr.Fields["newPassword"])
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := env.auth.ChangePassword(context.Background(), ChangePasswordInput{UserID: "missing"})
		assertAppError(t, err, models.KindNotFound, "User not found")
	})

	assert.Equal(t, int64(1), env.account(t, signup.Account.ID).SessionVersion, "rejections leave the epoch alone")
}

func TestAuthService_ChangePassword_SaveFails(t *testing.T) {
	env := newTestEnv(t)
	signup := env.signup(t, "alice", "alice@example.com")
	env.accounts.SaveFunc = func(ctx context.Context, account *models.Account) error {
		return errors.New("connection reset")
	}

	_, err := env.auth.ChangePassword(context.Background(), ChangePasswordInput{
		UserID: signup.Account.ID, DeviceKey: signup.Session.DeviceKey,
		CurrentPassword: testPassword, NewPassword: "Brand#New9pass",
	})
	assertAppError(t, err, models.KindInternal, "Internal server error")
	assert.NotContains(t, env.events.Types(), realtime.EventPasswordChanged)
}

func TestAuthService_Setup2FA(t *testing.T) {
	env := newTestEnv(t)
	signup := env.signup(t, "alice", "alice@example.com")
	ctx := context.Background()

	enabled, err := env.auth.TwoFactorStatus(ctx, signup.Account.ID)
	require.NoError(t, err)
	assert.False(t, enabled)

	setup, err := env.auth.Setup2FA(ctx, signup.Account.ID, true)
	require.NoError(t, err)
	assert.True(t, setup.Enabled)
	assert.True(t, strings.HasPrefix(setup.QRCode, "data:image/png;base64,"))
	assert.Len(t, setup.BackupCodes, 8)

	stored := env.account(t, signup.Account.ID)
	assert.True(t, stored.TwoFactorEnabled)
	assert.NotEmpty(t, stored.TwoFactorSecret)
	assert.Len(t, stored.BackupCodes, 8)
	assert.NotContains(t, stored.BackupCodes, setup.BackupCodes[0], "stored hashed")

	_, err = env.auth.Setup2FA(ctx, signup.Account.ID, true)
	assertAppError(t, err, models.KindValidation, "2FA already enabled")

	setup, err = env.auth.Setup2FA(ctx, signup.Account.ID, false)
	require.NoError(t, err)
	assert.False(t, setup.Enabled)
	assert.Empty(t, setup.BackupCodes)

	stored = env.account(t, signup.Account.ID)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Empty(t, stored.TwoFactorSecret)
	assert.Empty(t, stored.BackupCodes)

	_, err = env.auth.Setup2FA(ctx, signup.Account.ID, false)
	assertAppError(t, err, models.KindValidation, "2FA already disabled")
}

func TestAuthService_UpdateLocalization(t *testing.T) {
	env := newTestEnv(t)
	signup := env.signup(t, "alice", "alice@example.com")

	env.auth.locator = &MockLocator{LocateFunc: func(ctx context.Context, ip string) geo.Location {
		return geo.Location{Country: "Japan", State: "Tokyo", City: "Shibuya", LocalTime: "2026-01-01T19:00:00+09:00", Language: "jp"}
	}}

	loc, err := env.auth.UpdateLocalization(context.Background(), signup.Account.ID, signup.Session.DeviceKey,
		ClientInfo{IP: "198.51.100.44", UserAgent: testUserAgent})
	require.NoError(t, err)
	assert.Equal(t, "Japan", loc.Location.Country)
	assert.Equal(t, "Chrome", loc.Device.Client)

	entry := env.account(t, signup.Account.ID).LoginHistory[0]
	assert.Equal(t, "198.51.100.44", entry.IP)
	assert.Equal(t, "Shibuya", entry.City)
	assert.Equal(t, signup.Session.DeviceKey, entry.DeviceKey, "device key is stable")

	// unknown device: resolved but nothing stored
	loc, err = env.auth.UpdateLocalization(context.Background(), signup.Account.ID, "unknown-device", ClientInfo{IP: "198.51.100.45"})
	require.NoError(t, err)
	assert.Equal(t, "Japan", loc.Location.Country)
	assert.Equal(t, "198.51.100.44", env.account(t, signup.Account.ID).LoginHistory[0].IP)
}
