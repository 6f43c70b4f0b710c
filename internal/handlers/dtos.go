package handlers

import (
	"time"

	"github.com/BradenHooton/sessioncore/internal/services"
)

// Request DTOs

type SignupRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Username string `json:"username" validate:"required,alphanum,min=3,max=30"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password"`
}

type LoginRequest struct {
	Identifier    string `json:"identifier" validate:"required"`
	Password      string `json:"password" validate:"required"`
	TwoFactorCode string `json:"twoFactorCode" validate:"omitempty,max=32"`
}

type LogoutDeviceRequest struct {
	DeviceKey string `json:"deviceKey" validate:"required,max=128"`
}

type ChangePasswordRequest struct {
	CurrentPassword    string `json:"currentPassword" validate:"required"`
	NewPassword        string `json:"newPassword" validate:"required"`
	ConfirmNewPassword string `json:"confirmNewPassword" validate:"required,eqfield=NewPassword"`
}

type Setup2FARequest struct {
	Enable *bool `json:"enable" validate:"required"`
}

// Response DTOs

type MessageResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	CSRFToken string `json:"csrfToken,omitempty"`
}

type LoginResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
	Requires2FA      bool   `json:"requires2FA,omitempty"`
	CSRFToken        string `json:"csrfToken,omitempty"`
}

type SessionResponse struct {
	Success   bool   `json:"success"`
	UserID    string `json:"userId"`
	CSRFToken string `json:"csrfToken"`
}

type ActiveDevicesResponse struct {
	Success    bool                    `json:"success"`
	Devices    []services.ActiveDevice `json:"devices"`
	Total      int                     `json:"total"`
	ServerTime time.Time               `json:"serverTime"`
}

type LocationDTO struct {
	Country   string `json:"country"`
	State     string `json:"state"`
	City      string `json:"city"`
	LocalTime string `json:"localTime"`
	Language  string `json:"language"`
}

type DeviceDTO struct {
	DeviceType    string `json:"deviceType"`
	OS            string `json:"os"`
	OSVersion     string `json:"osVersion"`
	Client        string `json:"client"`
	ClientVersion string `json:"clientVersion"`
}

type LocalizationResponse struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	Location    LocationDTO `json:"location"`
	Device      DeviceDTO   `json:"device"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

type TwoFactorResponse struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message,omitempty"`
	TwoFactorEnabled bool     `json:"twoFactorEnabled"`
	QRCodeURL        string   `json:"qrCodeUrl,omitempty"`
	OTPAuthURL       string   `json:"otpauthUrl,omitempty"`
	BackupCodes      []string `json:"backupCodes,omitempty"`
	CSRFToken        string   `json:"csrfToken,omitempty"`
}
