package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/BradenHooton/sessioncore/internal/models"
	pkghttp "github.com/BradenHooton/sessioncore/pkg/http"
	"github.com/golang-jwt/jwt/v5"
)

// Guard outcomes reported to the observer.
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeRefreshed     = "refreshed"
	OutcomeRotated       = "rotated"
	OutcomeRejectedCSRF  = "rejected_csrf"
	OutcomeRejectedAuth  = "rejected_auth"
	OutcomeInvalidated   = "invalidated"
	OutcomeError         = "error"
)

const (
	msgMissingCSRF       = "Missing CSRF token"
	msgAuthRequired      = "Authentication required"
	msgInvalidFormat     = "Invalid token format"
	msgInvalidCSRF       = "Invalid or expired CSRF token"
	msgTokenMismatch     = "Token mismatch"
	msgInvalidToken      = "Invalid authentication token"
	msgInvalidRefresh    = "Invalid refresh token or device"
	msgUserNotFound      = "User not found"
	msgSessionInvalid    = "Session invalidated"
	msgAccountInactive   = "Account is not active"
	msgInsufficientRoles = "Insufficient permissions"
)

// ErrInvalidRefresh is returned for every refresh failure so callers cannot
// tell which check failed.
var ErrInvalidRefresh = models.AuthenticationError(msgInvalidRefresh)

// GuardObserver receives one outcome per guarded request.
type GuardObserver interface {
	ObserveGuard(outcome string)
}

type GuardConfig struct {
	RotateThreshold time.Duration
	IPConfig        *pkghttp.IPConfig
}

// SessionGuard authenticates cookie sessions and enforces the CSRF ledger on
// every protected request.
type SessionGuard struct {
	issuer   *SessionIssuer
	accounts AccountStore
	ledger   CSRFLedger
	cfg      GuardConfig
	observer GuardObserver
	logger   *slog.Logger
	now      func() time.Time
}

func NewSessionGuard(issuer *SessionIssuer, accounts AccountStore, ledger CSRFLedger, cfg GuardConfig, observer GuardObserver, logger *slog.Logger) *SessionGuard {
	return &SessionGuard{
		issuer:   issuer,
		accounts: accounts,
		ledger:   ledger,
		cfg:      cfg,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

func (g *SessionGuard) observe(outcome string) {
	if g.observer != nil {
		g.observer.ObserveGuard(outcome)
	}
}

func (g *SessionGuard) reject(w http.ResponseWriter, status int, message, outcome string) {
	g.observe(outcome)
	pkghttp.WriteError(w, status, message)
}

func (g *SessionGuard) fail(w http.ResponseWriter, r *http.Request, step string, err error) {
	g.observe(OutcomeError)
	g.logger.Error("session guard failed",
		slog.String("step", step),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	pkghttp.WriteInternalError(w)
}

// Middleware runs the guard decision procedure and attaches an Identity to
// the request context on success.
func (g *SessionGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := g.now()

		headerToken := r.Header.Get(HeaderCSRFToken)
		if headerToken == "" {
			g.reject(w, http.StatusForbidden, msgMissingCSRF, OutcomeRejectedCSRF)
			return
		}

		accessToken := cookieValue(r, CookieAccessToken)
		if accessToken == "" {
			g.reject(w, http.StatusUnauthorized, msgAuthRequired, OutcomeRejectedAuth)
			return
		}

		// double submit: the header must echo the csrfToken cookie
		cookieToken := cookieValue(r, CookieCSRFToken)
		if cookieToken == "" || subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
			g.reject(w, http.StatusForbidden, msgInvalidCSRF, OutcomeRejectedCSRF)
			return
		}

		unverified, err := g.issuer.tokens.DecodeUnverified(accessToken)
		if err != nil {
			g.reject(w, http.StatusUnauthorized, msgInvalidFormat, OutcomeRejectedAuth)
			return
		}

		csrf, err := g.ledger.Get(ctx, headerToken)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				g.reject(w, http.StatusForbidden, msgInvalidCSRF, OutcomeRejectedCSRF)
				return
			}
			g.fail(w, r, "csrf_lookup", err)
			return
		}
		if csrf.IsExpired(now) || csrf.Used {
			_ = g.ledger.Delete(ctx, csrf.Token)
			g.reject(w, http.StatusForbidden, msgInvalidCSRF, OutcomeRejectedCSRF)
			return
		}
		if csrf.UserID != unverified.UserID {
			_ = g.ledger.Delete(ctx, csrf.Token)
			g.reject(w, http.StatusForbidden, msgTokenMismatch, OutcomeRejectedCSRF)
			return
		}

		deviceKey := cookieValue(r, CookieDeviceKey)
		var account *models.Account
		var session *Session

		claims, err := g.issuer.tokens.ValidateAccess(accessToken)
		switch {
		case err == nil:
			account, err = g.accounts.GetByID(ctx, claims.UserID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					g.reject(w, http.StatusUnauthorized, msgUserNotFound, OutcomeRejectedAuth)
					return
				}
				g.fail(w, r, "load_account", err)
				return
			}
			if claims.SessionVersion != account.SessionVersion {
				g.issuer.ClearCookies(w)
				g.reject(w, http.StatusUnauthorized, msgSessionInvalid, OutcomeInvalidated)
				return
			}
			if !account.IsActive() {
				g.reject(w, http.StatusForbidden, msgAccountInactive, OutcomeRejectedAuth)
				return
			}

		case errors.Is(err, jwt.ErrTokenExpired):
			account, session, err = g.Refresh(ctx, cookieValue(r, CookieRefreshToken), deviceKey)
			if err != nil {
				g.writeRefreshError(w, r, err)
				return
			}
			g.issuer.WriteCookies(w, session)
			csrf = session.CSRF

		default:
			g.reject(w, http.StatusUnauthorized, msgInvalidToken, OutcomeRejectedAuth)
			return
		}

		ip := pkghttp.ExtractClientIP(r, g.cfg.IPConfig)
		if err := g.ledger.TrackUsage(ctx, csrf.Token, ip); err != nil {
			g.logger.Warn("failed to track csrf usage", slog.String("user_id", account.ID), slog.String("error", err.Error()))
		}

		outcome := OutcomeAuthenticated
		if session != nil {
			outcome = OutcomeRefreshed
		} else if csrf.Remaining(now) < g.cfg.RotateThreshold {
			session, err = g.issuer.Issue(ctx, account, deviceKey)
			if err != nil {
				g.fail(w, r, "rotate", err)
				return
			}
			g.issuer.WriteCookies(w, session)
			csrf = session.CSRF
			outcome = OutcomeRotated
		}

		g.observe(outcome)
		ctx = WithIdentity(ctx, &Identity{
			UserID:         account.ID,
			Role:           account.Role,
			SessionVersion: account.SessionVersion,
			DeviceKey:      deviceKey,
			CSRFToken:      csrf.Token,
			Rotated:        session != nil,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *SessionGuard) writeRefreshError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := models.AsError(err)
	switch {
	case appErr.Kind == models.KindInternal:
		g.fail(w, r, "refresh", err)
	case appErr.Message == msgSessionInvalid:
		g.issuer.ClearCookies(w)
		g.reject(w, http.StatusUnauthorized, msgSessionInvalid, OutcomeInvalidated)
	default:
		g.reject(w, pkghttp.StatusForKind(appErr.Kind), appErr.Message, OutcomeRejectedAuth)
	}
}

// Refresh validates a refresh token against the stored one and an active
// device session, then mints a new credential set. Cookies are not written.
func (g *SessionGuard) Refresh(ctx context.Context, refreshToken, deviceKey string) (*models.Account, *Session, error) {
	if refreshToken == "" || deviceKey == "" {
		return nil, nil, ErrInvalidRefresh
	}

	claims, err := g.issuer.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, nil, ErrInvalidRefresh
	}

	account, err := g.accounts.GetByIDAndRefreshToken(ctx, claims.UserID, refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, ErrInvalidRefresh
		}
		return nil, nil, models.InternalError(err)
	}
	if account.ActiveDevice(deviceKey) < 0 {
		return nil, nil, ErrInvalidRefresh
	}
	if claims.SessionVersion != account.SessionVersion {
		return nil, nil, models.AuthenticationError(msgSessionInvalid)
	}
	if !account.IsActive() {
		return nil, nil, models.AuthorizationError(msgAccountInactive)
	}

	session, err := g.issuer.Issue(ctx, account, deviceKey)
	if err != nil {
		return nil, nil, models.InternalError(err)
	}
	return account, session, nil
}

// ConsumeCSRF makes the guarded CSRF token single use. The token is spent
// atomically and a replacement is issued in the same response. Requests whose
// tokens were already reissued by the guard skip the spend, since the old
// token no longer exists.
func (g *SessionGuard) ConsumeCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetIdentity(r)
		if id == nil {
			pkghttp.WriteUnauthorized(w, msgAuthRequired)
			return
		}

		if !id.Rotated {
			ok, err := g.ledger.Consume(r.Context(), id.CSRFToken, id.UserID, g.now())
			if err != nil {
				g.fail(w, r, "csrf_consume", err)
				return
			}
			if !ok {
				pkghttp.WriteForbidden(w, msgInvalidCSRF)
				return
			}

			fresh, err := g.issuer.IssueCSRF(r.Context(), id.UserID)
			if err != nil {
				g.fail(w, r, "csrf_reissue", err)
				return
			}
			g.issuer.WriteCSRFCookie(w, fresh)
			id.CSRFToken = fresh.Token
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRole admits guarded requests whose account holds one of roles.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r)
			if id == nil {
				pkghttp.WriteUnauthorized(w, msgAuthRequired)
				return
			}
			if !slices.Contains(roles, id.Role) {
				pkghttp.WriteForbidden(w, msgInsufficientRoles)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
