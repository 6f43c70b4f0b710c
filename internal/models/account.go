package models

import (
	"time"
)

const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"

	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusBanned    = "banned"
)

// DefaultMaxDevices is the login history cap when none is configured.
const DefaultMaxDevices = 5

type Account struct {
	ID                  string
	Name                string
	Username            string // lowercase, unique
	Email               string // lowercase, unique
	PasswordHash        string
	Role                string
	Status              string
	FailedLoginAttempts int
	LockUntil           *time.Time
	SessionVersion      int64
	RefreshToken        *string // nil when no session is active
	TwoFactorEnabled    bool
	TwoFactorSecret     []byte // AES-GCM ciphertext
	TwoFactorNonce      []byte
	BackupCodes         []string // sha256 hex of each unused code
	RegisteredIP        string
	LoginHistory        []LoginHistoryEntry
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LoginHistoryEntry is one device session. Entries are keyed by DeviceKey.
type LoginHistoryEntry struct {
	IP         string    `json:"ip"`
	UserAgent  string    `json:"userAgent"`
	DeviceKey  string    `json:"deviceKey"`
	Country    string    `json:"country"`
	State      string    `json:"state"`
	City       string    `json:"city"`
	LocalTime  string    `json:"localTime"`
	Language   string    `json:"language"`
	DeviceType string    `json:"deviceType"`
	OS         string    `json:"os"`
	Client     string    `json:"client"`
	IsActive   bool      `json:"isActive"`
	Timestamp  time.Time `json:"timestamp"`
	Signature  string    `json:"signature"`
}

// IsLocked reports whether a temporary lock is in force at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockUntil != nil && a.LockUntil.After(now)
}

func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// ActiveDevice returns the index of the active entry for deviceKey, or -1.
func (a *Account) ActiveDevice(deviceKey string) int {
	if deviceKey == "" {
		return -1
	}
	for i := range a.LoginHistory {
		if a.LoginHistory[i].IsActive && a.LoginHistory[i].DeviceKey == deviceKey {
			return i
		}
	}
	return -1
}

func (a *Account) ActiveDeviceCount() int {
	n := 0
	for _, entry := range a.LoginHistory {
		if entry.IsActive {
			n++
		}
	}
	return n
}

// RecordLogin applies the stable-fingerprint history policy: inactive entries
// are dropped, an active entry with the same device key is refreshed in place,
// otherwise the entry is appended and the oldest entries are evicted until at
// most maxDevices remain. It reports whether the device was new.
func (a *Account) RecordLogin(entry LoginHistoryEntry, maxDevices int) bool {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}

	kept := a.LoginHistory[:0]
	for _, existing := range a.LoginHistory {
		if existing.IsActive {
			kept = append(kept, existing)
		}
	}
	a.LoginHistory = kept

	entry.IsActive = true
	if entry.Signature == "" {
		entry.Signature = entry.DeviceKey
	}

	if idx := a.ActiveDevice(entry.DeviceKey); idx >= 0 {
		a.LoginHistory[idx] = entry
		return false
	}

	a.LoginHistory = append(a.LoginHistory, entry)
	if overflow := len(a.LoginHistory) - maxDevices; overflow > 0 {
		a.LoginHistory = append([]LoginHistoryEntry(nil), a.LoginHistory[overflow:]...)
	}
	return true
}

// DeactivateDevice marks the active entry for deviceKey inactive. When no
// active entry remains the refresh token is dropped.
func (a *Account) DeactivateDevice(deviceKey string) bool {
	idx := a.ActiveDevice(deviceKey)
	if idx < 0 {
		return false
	}
	a.LoginHistory[idx].IsActive = false
	if a.ActiveDeviceCount() == 0 {
		a.RefreshToken = nil
	}
	return true
}

// DeactivateAll ends every device session and advances the session epoch.
func (a *Account) DeactivateAll() {
	for i := range a.LoginHistory {
		a.LoginHistory[i].IsActive = false
	}
	a.RefreshToken = nil
	a.SessionVersion++
}

// DeactivateOthers keeps only the session for deviceKey active.
func (a *Account) DeactivateOthers(deviceKey string) {
	for i := range a.LoginHistory {
		if a.LoginHistory[i].DeviceKey != deviceKey {
			a.LoginHistory[i].IsActive = false
		}
	}
}
