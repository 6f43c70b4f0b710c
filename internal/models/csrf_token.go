package models

import "time"

// MaxCSRFTokenTTL bounds the lifetime of any ledger entry.
const MaxCSRFTokenTTL = 24 * time.Hour

// CSRFToken is a ledger entry. UserID is a weak reference to Account.
type CSRFToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	Used      bool
	UsedIPs   []string
	CreatedAt time.Time
}

func (t *CSRFToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Remaining is the lifetime left at now, never negative.
func (t *CSRFToken) Remaining(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
