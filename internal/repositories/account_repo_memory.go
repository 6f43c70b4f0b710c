package repositories

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/google/uuid"
)

// MemoryAccountRepository keeps accounts in process memory. It backs
// STORAGE=memory and the service tests. Reads and writes copy the account so
// callers never share mutable state with the store.
type MemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[string]*models.Account)}
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	if a.LockUntil != nil {
		t := *a.LockUntil
		c.LockUntil = &t
	}
	if a.RefreshToken != nil {
		t := *a.RefreshToken
		c.RefreshToken = &t
	}
	c.TwoFactorSecret = append([]byte(nil), a.TwoFactorSecret...)
	c.TwoFactorNonce = append([]byte(nil), a.TwoFactorNonce...)
	c.BackupCodes = append([]string(nil), a.BackupCodes...)
	c.LoginHistory = append([]models.LoginHistoryEntry(nil), a.LoginHistory...)
	return &c
}

func (r *MemoryAccountRepository) Create(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if existing.Username == account.Username || existing.Email == account.Email {
			return fmt.Errorf("%w: username or email", models.ErrConflict)
		}
	}

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.Role == "" {
		account.Role = models.RoleUser
	}
	if account.Status == "" {
		account.Status = models.StatusActive
	}
	if account.SessionVersion == 0 {
		account.SessionVersion = 1
	}

	r.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *MemoryAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (r *MemoryAccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if account.Username == identifier || account.Email == identifier {
			return cloneAccount(account), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *MemoryAccountRepository) GetByIDAndRefreshToken(ctx context.Context, id, refreshToken string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok || account.RefreshToken == nil || *account.RefreshToken != refreshToken {
		return nil, models.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (r *MemoryAccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	username = strings.ToLower(username)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if account.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryAccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	email = strings.ToLower(email)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if account.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryAccountRepository) Save(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.accounts[account.ID]
	if !ok {
		return models.ErrNotFound
	}

	account.UpdatedAt = time.Now().UTC()
	saved := cloneAccount(account)
	// identity columns are immutable; the refresh token moves only through
	// UpdateRefreshToken
	saved.RefreshToken = existing.RefreshToken
	saved.Username = existing.Username
	saved.Email = existing.Email
	saved.RegisteredIP = existing.RegisteredIP
	saved.CreatedAt = existing.CreatedAt
	r.accounts[account.ID] = saved
	return nil
}

func (r *MemoryAccountRepository) UpdateRefreshToken(ctx context.Context, id string, refreshToken *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	if refreshToken == nil {
		account.RefreshToken = nil
	} else {
		t := *refreshToken
		account.RefreshToken = &t
	}
	account.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryAccountRepository) IncrementFailedLogins(ctx context.Context, id string, maxAttempts int, lockUntil, now time.Time) (int, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return 0, nil, models.ErrNotFound
	}

	expired := account.LockUntil != nil && !account.LockUntil.After(now)
	if expired {
		account.FailedLoginAttempts = 1
		account.LockUntil = nil
	} else {
		account.FailedLoginAttempts++
	}

	if account.FailedLoginAttempts >= maxAttempts {
		t := lockUntil
		account.LockUntil = &t
	}
	account.UpdatedAt = now

	var locked *time.Time
	if account.LockUntil != nil {
		t := *account.LockUntil
		locked = &t
	}
	return account.FailedLoginAttempts, locked, nil
}
