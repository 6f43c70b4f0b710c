package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/BradenHooton/sessioncore/internal/geo"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/BradenHooton/sessioncore/internal/realtime"
	pkgauth "github.com/BradenHooton/sessioncore/pkg/auth"
	pkglogger "github.com/BradenHooton/sessioncore/pkg/logger"
)

type ChangePasswordInput struct {
	UserID          string
	DeviceKey       string
	CurrentPassword string
	NewPassword     string
	Client          ClientInfo
}

// ChangePassword replaces the password, ends every other device session and
// reissues tokens for the calling device.
func (s *AuthService) ChangePassword(ctx context.Context, in ChangePasswordInput) (*auth.Session, error) {
	account, err := s.loadAccount(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, in.CurrentPassword); err != nil {
		s.auditLogger.LogPasswordChange(account.ID, in.Client.IP, false)
		return nil, models.AuthenticationError("Current password is incorrect")
	}
	if pkgauth.ComparePassword(account.PasswordHash, in.NewPassword) == nil {
		return nil, models.ValidationError("New password cannot be the same as current", map[string]string{
			"newPassword": "New password cannot be the same as current",
		})
	}
	if err := pkgauth.ValidatePassword(in.NewPassword); err != nil {
		return nil, models.ValidationError("Validation failed", map[string]string{"newPassword": err.Error()})
	}

	hash, err := pkgauth.HashPasswordWithCost(in.NewPassword, s.cfg.BcryptCost)
	if err != nil {
		return nil, models.InternalError(err)
	}

	var revoked []string
	for _, entry := range account.LoginHistory {
		if entry.IsActive && entry.DeviceKey != in.DeviceKey {
			revoked = append(revoked, entry.DeviceKey)
		}
	}

	account.PasswordHash = hash
	account.DeactivateOthers(in.DeviceKey)
	account.SessionVersion++

	if err := s.accounts.Save(ctx, account); err != nil {
		s.logger.Error("failed to save account", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, models.InternalError(err)
	}

	session, err := s.issuer.Issue(ctx, account, in.DeviceKey)
	if err != nil {
		s.logger.Error("failed to issue session", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, models.InternalError(err)
	}

	for _, key := range revoked {
		s.events.DisconnectUser(account.ID, key)
	}
	s.events.Publish(account.ID, realtime.EventPasswordChanged, map[string]string{
		"title":   "Password Changed",
		"message": "Your password was changed",
	})

	s.auditLogger.LogPasswordChange(account.ID, in.Client.IP, true)
	return session, nil
}

// TwoFactorSetup is the result of Setup2FA. Enrolment data is only present
// when 2FA was just enabled and is never shown again.
type TwoFactorSetup struct {
	Enabled     bool
	QRCode      string
	OTPAuthURL  string
	BackupCodes []string
}

// Setup2FA enables or disables TOTP for an account.
func (s *AuthService) Setup2FA(ctx context.Context, userID string, enable bool) (*TwoFactorSetup, error) {
	account, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	if enable == account.TwoFactorEnabled {
		if enable {
			return nil, models.ValidationError("2FA already enabled", nil)
		}
		return nil, models.ValidationError("2FA already disabled", nil)
	}

	result := &TwoFactorSetup{Enabled: enable}
	if enable {
		enrolment, err := s.totp.Enrol(account.Email)
		if err != nil {
			s.logger.Error("failed to enrol TOTP", slog.String("user_id", account.ID), slog.Any("error", err))
			return nil, models.InternalError(err)
		}
		account.TwoFactorEnabled = true
		account.TwoFactorSecret = enrolment.EncryptedSecret
		account.TwoFactorNonce = enrolment.Nonce
		account.BackupCodes = enrolment.HashedCodes

		result.QRCode = enrolment.QRCode
		result.OTPAuthURL = enrolment.OTPAuthURL
		result.BackupCodes = enrolment.BackupCodes
	} else {
		account.TwoFactorEnabled = false
		account.TwoFactorSecret = nil
		account.TwoFactorNonce = nil
		account.BackupCodes = nil
	}

	if err := s.accounts.Save(ctx, account); err != nil {
		s.logger.Error("failed to save account", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, models.InternalError(err)
	}

	eventType := "2fa_disabled"
	if enable {
		eventType = "2fa_enabled"
	}
	s.auditLogger.LogSessionEvent(pkglogger.AuditEvent{EventType: eventType, UserID: account.ID})
	return result, nil
}

func (s *AuthService) TwoFactorStatus(ctx context.Context, userID string) (bool, error) {
	account, err := s.loadAccount(ctx, userID)
	if err != nil {
		return false, err
	}
	return account.TwoFactorEnabled, nil
}

// Localization is the caller's resolved location and device.
type Localization struct {
	Location    geo.Location
	Device      auth.DeviceInfo
	LastUpdated time.Time
}

// UpdateLocalization resolves the caller's location and stores it on the
// active session entry of deviceKey, if there is one.
func (s *AuthService) UpdateLocalization(ctx context.Context, userID, deviceKey string, client ClientInfo) (*Localization, error) {
	account, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	loc := s.locator.Locate(ctx, client.IP)

	if idx := account.ActiveDevice(deviceKey); idx >= 0 {
		entry := &account.LoginHistory[idx]
		entry.IP = client.IP
		entry.Country = loc.Country
		entry.State = loc.State
		entry.City = loc.City
		entry.LocalTime = loc.LocalTime
		entry.Language = loc.Language
		entry.Timestamp = now

		if err := s.accounts.Save(ctx, account); err != nil {
			s.logger.Error("failed to save account", slog.String("user_id", account.ID), slog.Any("error", err))
			return nil, models.InternalError(err)
		}
	}

	s.logger.Info("location refreshed", slog.String("user_id", account.ID), slog.String("country", loc.Country))
	return &Localization{Location: loc, Device: auth.ParseDevice(client.UserAgent), LastUpdated: now}, nil
}

func (s *AuthService) loadAccount(ctx context.Context, userID string) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NotFoundError(msgUserNotFound)
		}
		s.logger.Error("failed to load account", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.InternalError(err)
	}
	return account, nil
}
