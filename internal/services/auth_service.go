package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/BradenHooton/sessioncore/internal/geo"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/BradenHooton/sessioncore/internal/realtime"
	pkgauth "github.com/BradenHooton/sessioncore/pkg/auth"
	pkglogger "github.com/BradenHooton/sessioncore/pkg/logger"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgInvalid2FA         = "Invalid 2FA code"
	msgAccountInactive    = "Account is not active"
	msgUserNotFound       = "User not found"
	suggestionCount       = 3
	suggestionAttempts    = 10
)

type AuthConfig struct {
	MaxDevices      int
	MaxFailedLogins int
	LockoutDuration time.Duration
	BcryptCost      int
}

// AuthDeps are the collaborators of AuthService. Mailer, Events, Observer
// and Delay may be nil.
type AuthDeps struct {
	Accounts AccountRepository
	Issuer   *auth.SessionIssuer
	TOTP     *auth.TOTPManager
	Locator  geo.Locator
	Mailer   Mailer
	Events   EventPublisher
	Observer LoginObserver
	Delay    *auth.FailureDelay
}

// AuthService handles signup, login and account security settings.
type AuthService struct {
	accounts    AccountRepository
	issuer      *auth.SessionIssuer
	totp        *auth.TOTPManager
	locator     geo.Locator
	mailer      Mailer
	events      EventPublisher
	observer    LoginObserver
	delay       *auth.FailureDelay
	cfg         AuthConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewAuthService(deps AuthDeps, cfg AuthConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthService {
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = models.DefaultMaxDevices
	}
	if cfg.MaxFailedLogins <= 0 {
		cfg.MaxFailedLogins = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = pkgauth.BcryptCost
	}

	s := &AuthService{
		accounts:    deps.Accounts,
		issuer:      deps.Issuer,
		totp:        deps.TOTP,
		locator:     deps.Locator,
		mailer:      deps.Mailer,
		events:      deps.Events,
		observer:    deps.Observer,
		delay:       deps.Delay,
		cfg:         cfg,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
	if s.locator == nil {
		s.locator = geo.StaticLocator{}
	}
	if s.mailer == nil {
		s.mailer = NewLogMailer(logger)
	}
	if s.events == nil {
		s.events = noopPublisher{}
	}
	if s.observer == nil {
		s.observer = noopLoginObserver{}
	}
	return s
}

type SignupInput struct {
	Name     string
	Username string
	Email    string
	Password string
	Client   ClientInfo
}

type LoginInput struct {
	Identifier    string
	Password      string
	TwoFactorCode string
	Client        ClientInfo
}

// AuthResult is a successful signup or login. Session is nil when the login
// stopped to ask for a second factor.
type AuthResult struct {
	Account     *models.Account
	Session     *auth.Session
	Requires2FA bool
	NewDevice   bool
}

// Signup creates an account with its first device session and issues tokens.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if err := s.checkAvailability(ctx, username, email); err != nil {
		return nil, err
	}

	hash, err := pkgauth.HashPasswordWithCost(in.Password, s.cfg.BcryptCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.InternalError(err)
	}

	now := s.now()
	info := auth.ParseDevice(in.Client.UserAgent)
	deviceKey := auth.DeviceKey(info, in.Client.IP)
	entry := s.historyEntry(info, deviceKey, in.Client, s.locator.Locate(ctx, in.Client.IP), now)
	entry.IsActive = true

	account := &models.Account{
		Name:           strings.TrimSpace(in.Name),
		Username:       username,
		Email:          email,
		PasswordHash:   hash,
		Role:           models.RoleUser,
		Status:         models.StatusActive,
		SessionVersion: 1,
		RegisteredIP:   in.Client.IP,
		LoginHistory:   []models.LoginHistoryEntry{entry},
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// lost a race with a concurrent signup
			return nil, s.checkAvailabilityOr(ctx, username, email, models.ConflictError("Email or username already taken", nil))
		}
		s.logger.Error("failed to create account", pkglogger.EmailAttr(email), slog.Any("error", err))
		return nil, models.InternalError(err)
	}

	session, err := s.issuer.Issue(ctx, account, deviceKey)
	if err != nil {
		s.logger.Error("failed to issue session", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, models.InternalError(err)
	}

	s.events.Publish(account.ID, realtime.EventWelcome, map[string]string{
		"title":   "Welcome to the Platform!",
		"message": fmt.Sprintf("Hello %s, we're excited to have you on board!", account.Username),
	})

	s.logger.Info("account created", slog.String("user_id", account.ID), pkglogger.EmailAttr(email), pkglogger.IPAttr(in.Client.IP))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "signup",
		UserID:    account.ID,
		IPAddress: in.Client.IP,
		UserAgent: in.Client.UserAgent,
		Success:   true,
	})

	return &AuthResult{Account: account, Session: session, NewDevice: true}, nil
}

func (s *AuthService) checkAvailability(ctx context.Context, username, email string) error {
	return s.checkAvailabilityOr(ctx, username, email, nil)
}

// checkAvailabilityOr returns the conflict for a taken username or email, or
// fallback when both are free.
func (s *AuthService) checkAvailabilityOr(ctx context.Context, username, email string, fallback error) error {
	emailTaken, err := s.accounts.ExistsByEmail(ctx, email)
	if err != nil {
		return models.InternalError(err)
	}
	usernameTaken, err := s.accounts.ExistsByUsername(ctx, username)
	if err != nil {
		return models.InternalError(err)
	}

	switch {
	case emailTaken && usernameTaken:
		return models.ConflictError("Email and username already taken", s.usernameSuggestions(ctx, username))
	case emailTaken:
		return models.ConflictError("Email already registered", nil)
	case usernameTaken:
		return models.ConflictError("Username taken", s.usernameSuggestions(ctx, username))
	}
	return fallback
}

// usernameSuggestions returns up to three distinct free names of the form
// username + number.
func (s *AuthService) usernameSuggestions(ctx context.Context, username string) []string {
	suggestions := make([]string, 0, suggestionCount)
	for i := 0; i < suggestionAttempts && len(suggestions) < suggestionCount; i++ {
		candidate := fmt.Sprintf("%s%d", username, rand.IntN(1000))
		if slices.Contains(suggestions, candidate) {
			continue
		}
		taken, err := s.accounts.ExistsByUsername(ctx, candidate)
		if err != nil {
			s.logger.Warn("failed to check username suggestion", slog.Any("error", err))
			break
		}
		if !taken {
			suggestions = append(suggestions, candidate)
		}
	}
	return suggestions
}

// Login authenticates by username or email and opens a session for the
// calling device. Unknown identifiers and wrong passwords take the same time
// and return the same error.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	start := s.now()
	identifier := strings.ToLower(strings.TrimSpace(in.Identifier))

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.rejectCredentials(ctx, start, "", in.Client)
		}
		s.logger.Error("failed to load account", slog.Any("error", err))
		return nil, models.InternalError(err)
	}

	if account.IsLocked(start) {
		s.observer.ObserveLogin(LoginLocked)
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        account.ID,
			IPAddress:     in.Client.IP,
			FailureReason: "account_locked",
		})
		return nil, models.AuthorizationError("Account locked until " + account.LockUntil.UTC().Format(time.RFC3339))
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, in.Password); err != nil {
		s.recordFailure(ctx, account, start)
		return nil, s.rejectCredentials(ctx, start, account.ID, in.Client)
	}

	if !account.IsActive() {
		s.observer.ObserveLogin(LoginInactive)
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        account.ID,
			IPAddress:     in.Client.IP,
			FailureReason: "account_" + account.Status,
		})
		return nil, models.AuthorizationError(msgAccountInactive)
	}

	if account.TwoFactorEnabled {
		code := strings.TrimSpace(in.TwoFactorCode)
		if code == "" {
			s.observer.ObserveLogin(LoginRequires2FA)
			return &AuthResult{Account: account, Requires2FA: true}, nil
		}
		ok, err := s.verifySecondFactor(account, code, start)
		if err != nil {
			s.logger.Error("failed to verify 2FA code", slog.String("user_id", account.ID), slog.Any("error", err))
			return nil, models.InternalError(err)
		}
		if !ok {
			s.observer.ObserveLogin(LoginInvalid2FA)
			s.delay.WaitFrom(ctx, start)
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				UserID:        account.ID,
				IPAddress:     in.Client.IP,
				FailureReason: "invalid_2fa",
			})
			return nil, models.AuthenticationError(msgInvalid2FA)
		}
	}

	account.FailedLoginAttempts = 0
	account.LockUntil = nil

	info := auth.ParseDevice(in.Client.UserAgent)
	deviceKey := auth.DeviceKey(info, in.Client.IP)

	var loc geo.Location
	if idx := account.ActiveDevice(deviceKey); idx >= 0 {
		prev := account.LoginHistory[idx]
		loc = geo.Location{Country: prev.Country, State: prev.State, City: prev.City, LocalTime: prev.LocalTime, Language: prev.Language}
	} else {
		loc = s.locator.Locate(ctx, in.Client.IP)
	}

	newDevice := account.RecordLogin(s.historyEntry(info, deviceKey, in.Client, loc, start), s.cfg.MaxDevices)
	account.SessionVersion++

	if err := s.accounts.Save(ctx, account); err != nil {
		s.logger.Error("failed to save account", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, models.InternalError(err)
	}

	session, err := s.issuer.Issue(ctx, account, deviceKey)
	if err != nil {
		s.logger.Error("failed to issue session", slog.String("user_id", account.ID), slog.Any("error", err))
		return nil, models.InternalError(err)
	}

	if newDevice {
		alert := DeviceAlert{
			DeviceType: info.DeviceType,
			OS:         info.OS,
			Client:     info.Client,
			IP:         in.Client.IP,
			Country:    loc.Country,
			City:       loc.City,
			Time:       start,
		}
		if err := s.mailer.SendNewDeviceAlert(ctx, account.Email, account.Username, alert); err != nil {
			s.logger.Warn("failed to send new device alert", slog.String("user_id", account.ID), slog.Any("error", err))
		}
	}

	s.observer.ObserveLogin(LoginSuccess)
	s.logger.Info("user logged in", slog.String("user_id", account.ID), pkglogger.IPAttr(in.Client.IP))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    account.ID,
		IPAddress: in.Client.IP,
		UserAgent: in.Client.UserAgent,
		DeviceKey: deviceKey,
		Success:   true,
	})

	return &AuthResult{Account: account, Session: session, NewDevice: newDevice}, nil
}

func (s *AuthService) rejectCredentials(ctx context.Context, start time.Time, userID string, client ClientInfo) error {
	s.observer.ObserveLogin(LoginInvalidCredentials)
	s.delay.WaitFrom(ctx, start)
	s.logger.Info("login failed: invalid credentials", pkglogger.IPAttr(client.IP))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        userID,
		IPAddress:     client.IP,
		FailureReason: "invalid_credentials",
	})
	return models.AuthenticationError(msgInvalidCredentials)
}

// recordFailure counts a failed password check and alerts the owner when it
// locks the account.
func (s *AuthService) recordFailure(ctx context.Context, account *models.Account, now time.Time) {
	attempts, lockedUntil, err := s.accounts.IncrementFailedLogins(ctx, account.ID, s.cfg.MaxFailedLogins, now.Add(s.cfg.LockoutDuration), now)
	if err != nil {
		s.logger.Error("failed to record failed login", slog.String("user_id", account.ID), slog.Any("error", err))
		return
	}
	if lockedUntil == nil || attempts != s.cfg.MaxFailedLogins {
		return
	}

	s.logger.Warn("account locked", slog.String("user_id", account.ID), slog.Time("until", *lockedUntil))
	if err := s.mailer.SendLockoutAlert(ctx, account.Email, account.Username, *lockedUntil); err != nil {
		s.logger.Warn("failed to send lockout alert", slog.String("user_id", account.ID), slog.Any("error", err))
	}
}

// verifySecondFactor accepts a live TOTP code or consumes a backup code.
func (s *AuthService) verifySecondFactor(account *models.Account, code string, now time.Time) (bool, error) {
	ok, err := s.totp.ValidateCode(account.TwoFactorSecret, account.TwoFactorNonce, code, now)
	if err != nil || ok {
		return ok, err
	}

	idx := auth.MatchBackupCode(account.BackupCodes, code)
	if idx < 0 {
		return false, nil
	}
	account.BackupCodes = slices.Delete(account.BackupCodes, idx, idx+1)
	return true, nil
}

func (s *AuthService) historyEntry(info auth.DeviceInfo, deviceKey string, client ClientInfo, loc geo.Location, now time.Time) models.LoginHistoryEntry {
	userAgent := client.UserAgent
	if userAgent == "" {
		userAgent = geo.Unknown
	}
	return models.LoginHistoryEntry{
		IP:         client.IP,
		UserAgent:  userAgent,
		DeviceKey:  deviceKey,
		Country:    loc.Country,
		State:      loc.State,
		City:       loc.City,
		LocalTime:  loc.LocalTime,
		Language:   loc.Language,
		DeviceType: info.DeviceType,
		OS:         info.OS,
		Client:     info.Client,
		Timestamp:  now,
		Signature:  auth.DeviceSignature(info, client.IP),
	}
}
