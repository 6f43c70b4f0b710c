package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/BradenHooton/sessioncore/internal/services"
	pkghttp "github.com/BradenHooton/sessioncore/pkg/http"
)

// AuthServiceInterface defines the interface for credential and account
// security operations
type AuthServiceInterface interface {
	Signup(ctx context.Context, in services.SignupInput) (*services.AuthResult, error)
	Login(ctx context.Context, in services.LoginInput) (*services.AuthResult, error)
	ChangePassword(ctx context.Context, in services.ChangePasswordInput) (*auth.Session, error)
	Setup2FA(ctx context.Context, userID string, enable bool) (*services.TwoFactorSetup, error)
	TwoFactorStatus(ctx context.Context, userID string) (bool, error)
	UpdateLocalization(ctx context.Context, userID, deviceKey string, client services.ClientInfo) (*services.Localization, error)
}

// Refresher rotates a credential set from a refresh token and device key.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken, deviceKey string) (*models.Account, *auth.Session, error)
}

// AuthHandler handles signup, login and the credential endpoints of an
// authenticated session.
type AuthHandler struct {
	service   AuthServiceInterface
	issuer    *auth.SessionIssuer
	refresher Refresher
	ipConfig  *pkghttp.IPConfig
	logger    *slog.Logger
}

func NewAuthHandler(service AuthServiceInterface, issuer *auth.SessionIssuer, refresher Refresher, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:   service,
		issuer:    issuer,
		refresher: refresher,
		ipConfig:  ipConfig,
		logger:    logger,
	}
}

func (h *AuthHandler) client(r *http.Request) services.ClientInfo {
	return services.ClientInfo{
		IP:        pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	}
}

// Signup handles account creation
// @Router /auth/signup [post]
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	result, err := h.service.Signup(r.Context(), services.SignupInput{
		Name:     strings.TrimSpace(req.Name),
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Client:   h.client(r),
	})
	if err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	h.issuer.WriteCookies(w, result.Session)
	pkghttp.WriteJSON(w, http.StatusCreated, MessageResponse{
		Success:   true,
		Message:   "Account created successfully",
		CSRFToken: result.Session.CSRF.Token,
	})
}

// Login handles password and optional second-factor authentication
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Identifier:    strings.TrimSpace(req.Identifier),
		Password:      req.Password,
		TwoFactorCode: strings.TrimSpace(req.TwoFactorCode),
		Client:        h.client(r),
	})
	if err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	if result.Requires2FA {
		pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
			Success:          false,
			Message:          "2FA code required",
			TwoFactorEnabled: true,
			Requires2FA:      true,
		})
		return
	}

	h.issuer.WriteCookies(w, result.Session)
	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Success:          true,
		Message:          "Logged in successfully",
		TwoFactorEnabled: result.Account.TwoFactorEnabled,
		CSRFToken:        result.Session.CSRF.Token,
	})
}

// Refresh rotates the credential set from the refresh and device cookies.
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(auth.HeaderCSRFToken) == "" {
		pkghttp.WriteForbidden(w, "Missing CSRF token")
		return
	}

	_, session, err := h.refresher.Refresh(r.Context(), cookie(r, auth.CookieRefreshToken), cookie(r, auth.CookieDeviceKey))
	if err != nil {
		if models.KindOf(err) == models.KindAuthentication {
			h.issuer.ClearCookies(w)
		}
		if models.KindOf(err) == models.KindInternal {
			h.logger.Error("token refresh failed", slog.Any("error", err))
		}
		pkghttp.WriteAppError(w, err)
		return
	}

	h.issuer.WriteCookies(w, session)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{
		Success:   true,
		Message:   "Tokens refreshed",
		CSRFToken: session.CSRF.Token,
	})
}

// Session echoes the guarded identity and the CSRF token to use next.
// @Router /auth/session [get]
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{
		Success:   true,
		UserID:    id.UserID,
		CSRFToken: id.CSRFToken,
	})
}

func cookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
