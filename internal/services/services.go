// Package services holds the account and session use cases behind the HTTP
// handlers.
package services

import (
	"context"
	"time"

	"github.com/BradenHooton/sessioncore/internal/models"
)

// AccountRepository is the credential store.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error)
	GetByIDAndRefreshToken(ctx context.Context, id, refreshToken string) (*models.Account, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Save(ctx context.Context, account *models.Account) error
	UpdateRefreshToken(ctx context.Context, id string, refreshToken *string) error
	IncrementFailedLogins(ctx context.Context, id string, maxAttempts int, lockUntil, now time.Time) (int, *time.Time, error)
}

// CSRFPurger drops every CSRF token of a user.
type CSRFPurger interface {
	DeleteForUser(ctx context.Context, userID string) error
}

// EventPublisher pushes events to a user's live channels.
type EventPublisher interface {
	Publish(userID, eventType string, data any)
	DisconnectUser(userID, deviceKey string) int
}

// LoginObserver receives one outcome per login attempt.
type LoginObserver interface {
	ObserveLogin(outcome string)
}

// Login outcomes.
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginLocked             = "locked"
	LoginInactive           = "inactive"
	LoginRequires2FA        = "requires_2fa"
	LoginInvalid2FA         = "invalid_2fa"
)

// ClientInfo describes the caller of a request.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, string, any) {}

func (noopPublisher) DisconnectUser(string, string) int { return 0 }

type noopLoginObserver struct{}

func (noopLoginObserver) ObserveLogin(string) {}
