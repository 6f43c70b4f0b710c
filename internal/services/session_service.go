package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/BradenHooton/sessioncore/internal/realtime"
	pkglogger "github.com/BradenHooton/sessioncore/pkg/logger"
)

// SessionService manages the device sessions recorded in an account's login
// history.
type SessionService struct {
	accounts    AccountRepository
	ledger      CSRFPurger
	events      EventPublisher
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewSessionService(accounts AccountRepository, ledger CSRFPurger, events EventPublisher, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *SessionService {
	if events == nil {
		events = noopPublisher{}
	}
	return &SessionService{
		accounts:    accounts,
		ledger:      ledger,
		events:      events,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// ActiveDevice is one collapsed device session.
type ActiveDevice struct {
	IP              string    `json:"ip"`
	Country         string    `json:"country"`
	State           string    `json:"state"`
	City            string    `json:"city"`
	LocalTime       string    `json:"localTime"`
	Language        string    `json:"language"`
	DeviceKey       string    `json:"deviceKey"`
	DeviceType      string    `json:"deviceType"`
	Client          string    `json:"client"`
	OS              string    `json:"os"`
	LastActive      time.Time `json:"lastActive"`
	HoursAgo        float64   `json:"hoursAgo"`
	IsCurrentDevice bool      `json:"isCurrentDevice"`
}

type ActiveDevices struct {
	Devices    []ActiveDevice
	ServerTime time.Time
}

// Logout ends the session of the calling device and purges the user's CSRF
// tokens. A device that is already inactive is not an error.
func (s *SessionService) Logout(ctx context.Context, userID, deviceKey string) error {
	if deviceKey != "" {
		account, err := s.accounts.GetByID(ctx, userID)
		switch {
		case err == nil:
			if account.DeactivateDevice(deviceKey) {
				if err := s.persist(ctx, account); err != nil {
					s.logger.Error("failed to save account", slog.String("user_id", userID), slog.Any("error", err))
					return models.InternalError(err)
				}
				s.revoked(userID, deviceKey)
			}
		case !errors.Is(err, models.ErrNotFound):
			s.logger.Error("failed to load account", slog.String("user_id", userID), slog.Any("error", err))
			return models.InternalError(err)
		}
	}

	if err := s.ledger.DeleteForUser(ctx, userID); err != nil {
		s.logger.Error("failed to purge csrf tokens", slog.String("user_id", userID), slog.Any("error", err))
		return models.InternalError(err)
	}

	s.auditLogger.LogSessionEvent(pkglogger.AuditEvent{EventType: "logout", UserID: userID, DeviceKey: deviceKey})
	return nil
}

// LogoutDevice ends the session of target. It reports whether target is the
// calling device, in which case the caller's cookies must be cleared.
func (s *SessionService) LogoutDevice(ctx context.Context, userID, currentDeviceKey, target string) (bool, error) {
	account, err := s.load(ctx, userID)
	if err != nil {
		return false, err
	}

	if !account.DeactivateDevice(target) {
		return false, models.NotFoundError("Device not found")
	}
	if err := s.persist(ctx, account); err != nil {
		s.logger.Error("failed to save account", slog.String("user_id", userID), slog.Any("error", err))
		return false, models.InternalError(err)
	}

	s.revoked(userID, target)
	s.auditLogger.LogSessionEvent(pkglogger.AuditEvent{EventType: "logout_device", UserID: userID, DeviceKey: target})
	return target == currentDeviceKey, nil
}

// LogoutAll ends every device session, advances the session epoch so that
// outstanding access tokens stop working, and purges CSRF tokens.
func (s *SessionService) LogoutAll(ctx context.Context, userID string) error {
	account, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	devices := account.ActiveDeviceCount()
	account.DeactivateAll()
	if err := s.persist(ctx, account); err != nil {
		s.logger.Error("failed to save account", slog.String("user_id", userID), slog.Any("error", err))
		return models.InternalError(err)
	}
	if err := s.ledger.DeleteForUser(ctx, userID); err != nil {
		s.logger.Error("failed to purge csrf tokens", slog.String("user_id", userID), slog.Any("error", err))
		return models.InternalError(err)
	}

	s.revoked(userID, "")
	s.logger.Info("user logged out from all devices", slog.String("user_id", userID))
	s.auditLogger.LogSessionEvent(pkglogger.AuditEvent{
		EventType: "logout_all",
		UserID:    userID,
		Metadata:  map[string]string{"devices": strconv.Itoa(devices)},
	})
	return nil
}

// RevokeSessions is LogoutAll performed by a moderator or admin on another
// account.
func (s *SessionService) RevokeSessions(ctx context.Context, actorID, targetID string) error {
	if err := s.LogoutAll(ctx, targetID); err != nil {
		return err
	}
	s.auditLogger.LogSessionEvent(pkglogger.AuditEvent{
		EventType: "sessions_revoked",
		UserID:    actorID,
		Metadata:  map[string]string{"target_user_id": targetID},
	})
	return nil
}

// GetActiveDevices lists active sessions collapsed by device signature,
// keeping the most recent entry of each. The calling device's last-seen time
// is refreshed first.
func (s *SessionService) GetActiveDevices(ctx context.Context, userID, currentDeviceKey string) (*ActiveDevices, error) {
	account, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if idx := account.ActiveDevice(currentDeviceKey); idx >= 0 {
		account.LoginHistory[idx].Timestamp = now
		if err := s.accounts.Save(ctx, account); err != nil {
			s.logger.Warn("failed to refresh device timestamp", slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	devices := make([]ActiveDevice, 0, len(account.LoginHistory))
	bySignature := make(map[string]int)
	for _, entry := range account.LoginHistory {
		if !entry.IsActive {
			continue
		}

		signature := auth.DeviceSignature(auth.DeviceInfo{DeviceType: entry.DeviceType, OS: entry.OS}, entry.IP)
		device := ActiveDevice{
			IP:              entry.IP,
			Country:         entry.Country,
			State:           entry.State,
			City:            entry.City,
			LocalTime:       entry.LocalTime,
			Language:        entry.Language,
			DeviceKey:       entry.DeviceKey,
			DeviceType:      entry.DeviceType,
			Client:          entry.Client,
			OS:              entry.OS,
			LastActive:      entry.Timestamp,
			HoursAgo:        hoursSince(now, entry.Timestamp),
			IsCurrentDevice: entry.DeviceKey == currentDeviceKey,
		}

		if idx, seen := bySignature[signature]; seen {
			if entry.Timestamp.After(devices[idx].LastActive) {
				devices[idx] = device
			}
			continue
		}
		bySignature[signature] = len(devices)
		devices = append(devices, device)
	}

	return &ActiveDevices{Devices: devices, ServerTime: now}, nil
}

// hoursSince rounds to one decimal and never goes negative.
func hoursSince(now, t time.Time) float64 {
	hours := math.Round(now.Sub(t).Hours()*10) / 10
	if hours < 0 {
		return 0
	}
	return hours
}

// persist saves account and drops the stored refresh token once no device
// session is left. Save never writes the refresh token.
func (s *SessionService) persist(ctx context.Context, account *models.Account) error {
	if err := s.accounts.Save(ctx, account); err != nil {
		return err
	}
	if account.ActiveDeviceCount() == 0 {
		return s.accounts.UpdateRefreshToken(ctx, account.ID, nil)
	}
	return nil
}

func (s *SessionService) revoked(userID, deviceKey string) {
	s.events.Publish(userID, realtime.EventSessionRevoked, map[string]any{
		"deviceKey": deviceKey,
		"all":       deviceKey == "",
	})
	s.events.DisconnectUser(userID, deviceKey)
}

func (s *SessionService) load(ctx context.Context, userID string) (*models.Account, error) {
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
