package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount(username, email string) *models.Account {
	return &models.Account{
		Name:         "Test User",
		Username:     username,
		Email:        email,
		PasswordHash: "hash",
	}
}

func TestMemoryAccountRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	account := newTestAccount("alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, account))
	assert.NotEmpty(t, account.ID)
	assert.Equal(t, models.RoleUser, account.Role)
	assert.Equal(t, models.StatusActive, account.Status)
	assert.Equal(t, int64(1), account.SessionVersion)

	byUsername, err := repo.GetByIdentifier(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byUsername.ID)

	byEmail, err := repo.GetByIdentifier(ctx, " alice@example.com ")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byEmail.ID)

	_, err = repo.GetByIdentifier(ctx, "bob")
	assert.ErrorIs(t, err, models.ErrNotFound)

	exists, err := repo.ExistsByUsername(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryAccountRepository_CreateConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	require.NoError(t, repo.Create(ctx, newTestAccount("alice", "alice@example.com")))

	err := repo.Create(ctx, newTestAccount("alice", "other@example.com"))
	assert.ErrorIs(t, err, models.ErrConflict)

	err = repo.Create(ctx, newTestAccount("other", "alice@example.com"))
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestMemoryAccountRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	account := newTestAccount("alice", "alice@example.com")
	account.LoginHistory = []models.LoginHistoryEntry{{DeviceKey: "d1", IsActive: true}}
	require.NoError(t, repo.Create(ctx, account))

	loaded, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	loaded.LoginHistory[0].IsActive = false
	loaded.Name = "changed"

	again, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, again.LoginHistory[0].IsActive)
	assert.Equal(t, "Test User", again.Name)
}

func TestMemoryAccountRepository_RefreshTokenLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	account := newTestAccount("alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, account))

	_, err := repo.GetByIDAndRefreshToken(ctx, account.ID, "rt")
	assert.ErrorIs(t, err, models.ErrNotFound)

	token := "rt"
	require.NoError(t, repo.UpdateRefreshToken(ctx, account.ID, &token))

	found, err := repo.GetByIDAndRefreshToken(ctx, account.ID, "rt")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)

	_, err = repo.GetByIDAndRefreshToken(ctx, account.ID, "other")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, repo.UpdateRefreshToken(ctx, account.ID, nil))
	_, err = repo.GetByIDAndRefreshToken(ctx, account.ID, "rt")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, repo.UpdateRefreshToken(ctx, "missing", nil), models.ErrNotFound)
}

func TestMemoryAccountRepository_SaveKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	account := newTestAccount("alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, account))

	account.Username = "mallory"
	account.SessionVersion = 7
	require.NoError(t, repo.Save(ctx, account))

	loaded, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.Username)
	assert.Equal(t, int64(7), loaded.SessionVersion)

	assert.ErrorIs(t, repo.Save(ctx, &models.Account{ID: "missing"}), models.ErrNotFound)
}

func TestMemoryAccountRepository_SaveLeavesRefreshToken(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	account := newTestAccount("alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, account))
	old := "rt-old"
	require.NoError(t, repo.UpdateRefreshToken(ctx, account.ID, &old))

	snapshot, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)

	rotated := "rt-new"
	require.NoError(t, repo.UpdateRefreshToken(ctx, account.ID, &rotated))

	snapshot.SessionVersion = 9
	require.NoError(t, repo.Save(ctx, snapshot))

	_, err = repo.GetByIDAndRefreshToken(ctx, account.ID, "rt-old")
	assert.ErrorIs(t, err, models.ErrNotFound, "a stale snapshot must not restore the old token")
	loaded, err := repo.GetByIDAndRefreshToken(ctx, account.ID, "rt-new")
	require.NoError(t, err)
	assert.Equal(t, int64(9), loaded.SessionVersion)

	snapshot.RefreshToken = nil
	require.NoError(t, repo.Save(ctx, snapshot))
	_, err = repo.GetByIDAndRefreshToken(ctx, account.ID, "rt-new")
	assert.NoError(t, err)
}

func TestMemoryAccountRepository_IncrementFailedLogins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	account := newTestAccount("alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, account))

	now := time.Now()
	lockUntil := now.Add(15 * time.Minute)

	for i := 1; i < 5; i++ {
		attempts, locked, err := repo.IncrementFailedLogins(ctx, account.ID, 5, lockUntil, now)
		require.NoError(t, err)
		assert.Equal(t, i, attempts)
		assert.Nil(t, locked)
	}

	attempts, locked, err := repo.IncrementFailedLogins(ctx, account.ID, 5, lockUntil, now)
	require.NoError(t, err)
	assert.Equal(t, 5, attempts)
	require.NotNil(t, locked)
	assert.True(t, locked.Equal(lockUntil))

	// after the lock lapses the count restarts
	later := lockUntil.Add(time.Second)
	attempts, locked, err = repo.IncrementFailedLogins(ctx, account.ID, 5, later.Add(15*time.Minute), later)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Nil(t, locked)
}

func TestMemoryAccountRepository_IncrementFailedLogins_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	account := newTestAccount("alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, account))

	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = repo.IncrementFailedLogins(ctx, account.ID, 100, now.Add(time.Minute), now)
		}()
	}
	wg.Wait()

	loaded, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.FailedLoginAttempts)
}

func TestMemoryCSRFLedger_ReplaceForUser(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryCSRFLedger()
	exp := time.Now().Add(10 * time.Minute)

	require.NoError(t, ledger.ReplaceForUser(ctx, &models.CSRFToken{Token: "a1", UserID: "u1", ExpiresAt: exp}))
	require.NoError(t, ledger.ReplaceForUser(ctx, &models.CSRFToken{Token: "b1", UserID: "u2", ExpiresAt: exp}))
	require.NoError(t, ledger.ReplaceForUser(ctx, &models.CSRFToken{Token: "a2", UserID: "u1", ExpiresAt: exp}))

	_, err := ledger.Get(ctx, "a1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	tok, err := ledger.Get(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, "u1", tok.UserID)
	assert.False(t, tok.CreatedAt.IsZero())

	_, err = ledger.Get(ctx, "b1")
	assert.NoError(t, err)

	require.NoError(t, ledger.DeleteForUser(ctx, "u1"))
	_, err = ledger.Get(ctx, "a2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryCSRFLedger_Consume(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryCSRFLedger()
	now := time.Now()

	require.NoError(t, ledger.ReplaceForUser(ctx, &models.CSRFToken{Token: "t1", UserID: "u1", ExpiresAt: now.Add(time.Minute)}))

	ok, err := ledger.Consume(ctx, "t1", "u2", now)
	require.NoError(t, err)
	assert.False(t, ok, "other user's token")

	ok, err = ledger.Consume(ctx, "t1", "u1", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "expired token")

	ok, err = ledger.Consume(ctx, "t1", "u1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Consume(ctx, "t1", "u1", now)
	require.NoError(t, err)
	assert.False(t, ok, "second consume")

	tok, err := ledger.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, tok.Used)
}

func TestMemoryCSRFLedger_ConsumeIsAtomic(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryCSRFLedger()
	now := time.Now()

	require.NoError(t, ledger.ReplaceForUser(ctx, &models.CSRFToken{Token: "t1", UserID: "u1", ExpiresAt: now.Add(time.Minute)}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := ledger.Consume(ctx, "t1", "u1", now); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestMemoryCSRFLedger_TrackUsage(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryCSRFLedger()

	require.NoError(t, ledger.ReplaceForUser(ctx, &models.CSRFToken{Token: "t1", UserID: "u1", ExpiresAt: time.Now().Add(time.Minute)}))

	require.NoError(t, ledger.TrackUsage(ctx, "t1", "10.0.0.1"))
	require.NoError(t, ledger.TrackUsage(ctx, "t1", "10.0.0.1"))
	require.NoError(t, ledger.TrackUsage(ctx, "t1", "10.0.0.2"))
	require.NoError(t, ledger.TrackUsage(ctx, "missing", "10.0.0.2"))

	tok, err := ledger.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, tok.UsedIPs)
}

func TestMemoryCSRFLedger_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryCSRFLedger()
	now := time.Now()

	require.NoError(t, ledger.ReplaceForUser(ctx, &models.CSRFToken{Token: "old", UserID: "u1", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, ledger.ReplaceForUser(ctx, &models.CSRFToken{Token: "edge", UserID: "u2", ExpiresAt: now}))
	require.NoError(t, ledger.ReplaceForUser(ctx, &models.CSRFToken{Token: "live", UserID: "u3", ExpiresAt: now.Add(time.Minute)}))

	removed, err := ledger.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = ledger.Get(ctx, "live")
	assert.NoError(t, err)
	_, err = ledger.Get(ctx, "edge")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
