package repositories

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/BradenHooton/sessioncore/internal/models"
)

// MemoryCSRFLedger is the in-process CSRF token ledger. Expired tokens stay
// until DeleteExpired runs.
type MemoryCSRFLedger struct {
	mu     sync.RWMutex
	tokens map[string]*models.CSRFToken
}

func NewMemoryCSRFLedger() *MemoryCSRFLedger {
	return &MemoryCSRFLedger{tokens: make(map[string]*models.CSRFToken)}
}

func cloneCSRFToken(t *models.CSRFToken) *models.CSRFToken {
	c := *t
	c.UsedIPs = append([]string(nil), t.UsedIPs...)
	return &c
}

func (l *MemoryCSRFLedger) Get(ctx context.Context, token string) (*models.CSRFToken, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, ok := l.tokens[token]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneCSRFToken(t), nil
}

func (l *MemoryCSRFLedger) Delete(ctx context.Context, token string) error {
	l.mu.Lock()
	delete(l.tokens, token)
	l.mu.Unlock()
	return nil
}

func (l *MemoryCSRFLedger) ReplaceForUser(ctx context.Context, t *models.CSRFToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for token, existing := range l.tokens {
		if existing.UserID == t.UserID {
			delete(l.tokens, token)
		}
	}
	l.tokens[t.Token] = cloneCSRFToken(t)
	return nil
}

func (l *MemoryCSRFLedger) DeleteForUser(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for token, existing := range l.tokens {
		if existing.UserID == userID {
			delete(l.tokens, token)
		}
	}
	return nil
}

func (l *MemoryCSRFLedger) TrackUsage(ctx context.Context, token, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tokens[token]
	if !ok {
		return nil
	}
	if !slices.Contains(t.UsedIPs, ip) {
		t.UsedIPs = append(t.UsedIPs, ip)
	}
	return nil
}

func (l *MemoryCSRFLedger) Consume(ctx context.Context, token, userID string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tokens[token]
	if !ok || t.UserID != userID || t.Used || t.IsExpired(now) {
		return false, nil
	}
	t.Used = true
	return true, nil
}

func (l *MemoryCSRFLedger) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed int64
	for token, t := range l.tokens {
		if t.IsExpired(now) {
			delete(l.tokens, token)
			removed++
		}
	}
	return removed, nil
}
