package handlers

import (
	"context"
	"net/http"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/BradenHooton/sessioncore/internal/services"
	pkghttp "github.com/BradenHooton/sessioncore/pkg/http"
	"github.com/go-chi/chi/v5"
)

// SessionServiceInterface defines the device session operations
type SessionServiceInterface interface {
	Logout(ctx context.Context, userID, deviceKey string) error
	LogoutDevice(ctx context.Context, userID, currentDeviceKey, target string) (bool, error)
	LogoutAll(ctx context.Context, userID string) error
	RevokeSessions(ctx context.Context, actorID, targetID string) error
	GetActiveDevices(ctx context.Context, userID, currentDeviceKey string) (*services.ActiveDevices, error)
}

type SessionHandler struct {
	service SessionServiceInterface
	issuer  *auth.SessionIssuer
}

func NewSessionHandler(service SessionServiceInterface, issuer *auth.SessionIssuer) *SessionHandler {
	return &SessionHandler{service: service, issuer: issuer}
}

// @Router /auth/logout [post]
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), id.UserID, id.DeviceKey); err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	h.issuer.ClearCookies(w)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Logged out successfully"})
}

// @Router /auth/logout-all [post]
func (h *SessionHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.LogoutAll(r.Context(), id.UserID); err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	h.issuer.ClearCookies(w)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Logged out from all devices successfully"})
}

// LogoutDevice ends one device session. Cookies are cleared when the target
// is the calling device.
// @Router /auth/logout-device [post]
func (h *SessionHandler) LogoutDevice(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req LogoutDeviceRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	current, err := h.service.LogoutDevice(r.Context(), id.UserID, id.DeviceKey, req.DeviceKey)
	if err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	resp := MessageResponse{Success: true, Message: "Device logged out successfully"}
	if current {
		h.issuer.ClearCookies(w)
	} else {
		resp.CSRFToken = id.CSRFToken
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// @Router /auth/active-devices [get]
func (h *SessionHandler) ActiveDevices(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	result, err := h.service.GetActiveDevices(r.Context(), id.UserID, id.DeviceKey)
	if err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ActiveDevicesResponse{
		Success:    true,
		Devices:    result.Devices,
		Total:      len(result.Devices),
		ServerTime: result.ServerTime,
	})
}

// RevokeSessions ends every session of another account. Routed behind
// RequireRole.
// @Router /admin/users/{id}/revoke-sessions [post]
func (h *SessionHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	target := chi.URLParam(r, "id")
	if target == "" {
		pkghttp.WriteBadRequest(w, "User ID is required")
		return
	}

	if err := h.service.RevokeSessions(r.Context(), id.UserID, target); err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Sessions revoked", CSRFToken: id.CSRFToken})
}
