package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/sessioncore/internal/models"
)

// AccountStore is the part of the credential store the session layer needs.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByIDAndRefreshToken(ctx context.Context, id, refreshToken string) (*models.Account, error)
	UpdateRefreshToken(ctx context.Context, id string, refreshToken *string) error
}

// CSRFLedger stores issued CSRF tokens.
type CSRFLedger interface {
	Get(ctx context.Context, token string) (*models.CSRFToken, error)
	Delete(ctx context.Context, token string) error
	ReplaceForUser(ctx context.Context, token *models.CSRFToken) error
	DeleteForUser(ctx context.Context, userID string) error
	TrackUsage(ctx context.Context, token, ip string) error
	Consume(ctx context.Context, token, userID string, now time.Time) (bool, error)
}

// Session is a freshly minted credential set for one device.
type Session struct {
	UserID         string
	AccessToken    string
	RefreshToken   string
	DeviceKey      string
	SessionVersion int64
	CSRF           *models.CSRFToken
}

// SessionIssuer mints token pairs and CSRF tokens and writes them as cookies.
type SessionIssuer struct {
	tokens        *TokenManager
	csrf          *CSRFGenerator
	accounts      AccountStore
	ledger        CSRFLedger
	cookies       CookieConfig
	sessionMaxAge time.Duration
	now           func() time.Time
}

func NewSessionIssuer(tokens *TokenManager, csrf *CSRFGenerator, accounts AccountStore, ledger CSRFLedger, cookies CookieConfig, sessionMaxAge time.Duration) *SessionIssuer {
	return &SessionIssuer{
		tokens:        tokens,
		csrf:          csrf,
		accounts:      accounts,
		ledger:        ledger,
		cookies:       cookies,
		sessionMaxAge: sessionMaxAge,
		now:           time.Now,
	}
}

func (i *SessionIssuer) Tokens() *TokenManager { return i.tokens }

func (i *SessionIssuer) Cookies() CookieConfig { return i.cookies }

// Issue mints an access/refresh pair for the account's current session
// version, stores the refresh token as the account's only valid one and
// replaces the user's CSRF tokens with a new one.
func (i *SessionIssuer) Issue(ctx context.Context, account *models.Account, deviceKey string) (*Session, error) {
	access, err := i.tokens.GenerateAccessToken(account)
	if err != nil {
		return nil, err
	}
	refresh, err := i.tokens.GenerateRefreshToken(account)
	if err != nil {
		return nil, err
	}

	if err := i.accounts.UpdateRefreshToken(ctx, account.ID, &refresh); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	account.RefreshToken = &refresh

	csrf, err := i.IssueCSRF(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	return &Session{
		UserID:         account.ID,
		AccessToken:    access,
		RefreshToken:   refresh,
		DeviceKey:      deviceKey,
		SessionVersion: account.SessionVersion,
		CSRF:           csrf,
	}, nil
}

// IssueCSRF purges the user's CSRF tokens and stores a new one.
func (i *SessionIssuer) IssueCSRF(ctx context.Context, userID string) (*models.CSRFToken, error) {
	token, err := i.csrf.Generate(userID, i.now())
	if err != nil {
		return nil, err
	}
	if err := i.ledger.ReplaceForUser(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store csrf token: %w", err)
	}
	return token, nil
}

// WriteCookies sets every session cookie for s.
func (i *SessionIssuer) WriteCookies(w http.ResponseWriter, s *Session) {
	i.cookies.set(w, CookieAccessToken, s.AccessToken, i.tokens.AccessTokenExpiry(), true)
	i.cookies.set(w, CookieRefreshToken, s.RefreshToken, i.sessionMaxAge, true)
	if s.DeviceKey != "" {
		i.cookies.set(w, CookieDeviceKey, s.DeviceKey, i.sessionMaxAge, true)
	}
	i.cookies.set(w, CookieSessionVersion, strconv.FormatInt(s.SessionVersion, 10), i.sessionMaxAge, true)
	i.cookies.SetCSRFCookie(w, s.CSRF.Token, i.csrf.TTL())
}

// WriteCSRFCookie sets only the CSRF cookie.
func (i *SessionIssuer) WriteCSRFCookie(w http.ResponseWriter, token *models.CSRFToken) {
	i.cookies.SetCSRFCookie(w, token.Token, i.csrf.TTL())
}

func (i *SessionIssuer) ClearCookies(w http.ResponseWriter) {
	i.cookies.ClearSessionCookies(w)
}
