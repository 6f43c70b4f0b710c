package handlers

import (
	"net/http"

	"github.com/BradenHooton/sessioncore/internal/auth"
	"github.com/BradenHooton/sessioncore/internal/services"
	pkghttp "github.com/BradenHooton/sessioncore/pkg/http"
)

// ChangePassword replaces the password, ends every other device session and
// reissues credentials for the calling device.
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	session, err := h.service.ChangePassword(r.Context(), services.ChangePasswordInput{
		UserID:          id.UserID,
		DeviceKey:       id.DeviceKey,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		Client:          h.client(r),
	})
	if err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	h.issuer.WriteCookies(w, session)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{
		Success:   true,
		Message:   "Password changed successfully",
		CSRFToken: session.CSRF.Token,
	})
}

// Setup2FA enables or disables TOTP. Backup codes are only ever returned
// here, once.
// @Router /auth/setup-2fa [post]
func (h *AuthHandler) Setup2FA(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req Setup2FARequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	setup, err := h.service.Setup2FA(r.Context(), id.UserID, *req.Enable)
	if err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	resp := TwoFactorResponse{
		Success:          true,
		Message:          "2FA disabled",
		TwoFactorEnabled: setup.Enabled,
		CSRFToken:        id.CSRFToken,
	}
	if setup.Enabled {
		resp.Message = "2FA enabled"
		resp.QRCodeURL = setup.QRCode
		resp.OTPAuthURL = setup.OTPAuthURL
		resp.BackupCodes = setup.BackupCodes
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// @Router /auth/2fa-status [get]
func (h *AuthHandler) TwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	enabled, err := h.service.TwoFactorStatus(r.Context(), id.UserID)
	if err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorResponse{
		Success:          true,
		TwoFactorEnabled: enabled,
		CSRFToken:        id.CSRFToken,
	})
}

// Localization refreshes the geodata of the calling device's session.
// @Router /auth/localization [patch]
func (h *AuthHandler) Localization(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r)
	if id == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	loc, err := h.service.UpdateLocalization(r.Context(), id.UserID, id.DeviceKey, h.client(r))
	if err != nil {
		pkghttp.WriteAppError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LocalizationResponse{
		Success: true,
		Message: "Location updated successfully",
		Location: LocationDTO{
			Country:   loc.Location.Country,
			State:     loc.Location.State,
			City:      loc.Location.City,
			LocalTime: loc.Location.LocalTime,
			Language:  loc.Location.Language,
		},
		Device: DeviceDTO{
			DeviceType:    loc.Device.DeviceType,
			OS:            loc.Device.OS,
			OSVersion:     loc.Device.OSVersion,
			Client:        loc.Device.Client,
			ClientVersion: loc.Device.ClientVersion,
		},
		LastUpdated: loc.LastUpdated,
	})
}
