package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/sessioncore/internal/database"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// AccountRepository is the Postgres credential store. Login history rows are
// written together with their account as a single unit.
type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const accountColumns = `id, name, username, email, password_hash, role, status,
	failed_login_attempts, lock_until, session_version, refresh_token,
	two_factor_enabled, two_factor_secret, two_factor_nonce, backup_codes,
	registered_ip, created_at, updated_at`

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var backupCodes []string

	err := scanner.Scan(
		&account.ID, &account.Name, &account.Username, &account.Email, &account.PasswordHash,
		&account.Role, &account.Status,
		&account.FailedLoginAttempts, &account.LockUntil, &account.SessionVersion, &account.RefreshToken,
		&account.TwoFactorEnabled, &account.TwoFactorSecret, &account.TwoFactorNonce, pq.Array(&backupCodes),
		&account.RegisteredIP, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	account.BackupCodes = backupCodes
	return &account, nil
}

func loadLoginHistory(ctx context.Context, q querier, accountID string) ([]models.LoginHistoryEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT ip, user_agent, device_key, country, state, city, local_time, language,
			device_type, os, client, is_active, seen_at, signature
		FROM login_history WHERE account_id = $1 ORDER BY position
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query login history: %w", err)
	}
	defer rows.Close()

	history := make([]models.LoginHistoryEntry, 0, models.DefaultMaxDevices)
	for rows.Next() {
		var e models.LoginHistoryEntry
		if err := rows.Scan(
			&e.IP, &e.UserAgent, &e.DeviceKey, &e.Country, &e.State, &e.City, &e.LocalTime, &e.Language,
			&e.DeviceType, &e.OS, &e.Client, &e.IsActive, &e.Timestamp, &e.Signature,
		); err != nil {
			return nil, fmt.Errorf("failed to scan login history: %w", err)
		}
		history = append(history, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login history: %w", err)
	}

	return history, nil
}

func (r *AccountRepository) getOne(ctx context.Context, where string, args ...any) (*models.Account, error) {
	account, err := scanAccountRow(r.db.Pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+where, args...))
	if err != nil {
		return nil, err
	}

	account.LoginHistory, err = loadLoginHistory(ctx, r.db.Pool, account.ID)
	if err != nil {
		return nil, err
	}

	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.getOne(ctx, `id = $1`, id)
}

// GetByIdentifier matches a username or an email, case-insensitively.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	return r.getOne(ctx, `username = $1 OR email = $1 LIMIT 1`, identifier)
}

// GetByIDAndRefreshToken only matches while token is the stored refresh token.
func (r *AccountRepository) GetByIDAndRefreshToken(ctx context.Context, id, refreshToken string) (*models.Account, error) {
	return r.getOne(ctx, `id = $1 AND refresh_token = $2`, id, refreshToken)
}

func (r *AccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE username = $1)`, strings.ToLower(username)).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`, strings.ToLower(email)).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
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

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (`+accountColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`,
			account.ID, account.Name, account.Username, account.Email, account.PasswordHash,
			account.Role, account.Status,
			account.FailedLoginAttempts, account.LockUntil, account.SessionVersion, account.RefreshToken,
			account.TwoFactorEnabled, account.TwoFactorSecret, account.TwoFactorNonce, pq.Array(nonNil(account.BackupCodes)),
			account.RegisteredIP, account.CreatedAt, account.UpdatedAt,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		return writeLoginHistory(ctx, tx, account.ID, account.LoginHistory)
	})
}

// Save writes the mutable fields of the account and replaces its login
// history. Concurrent saves are last-writer-wins. refresh_token is written
// only by UpdateRefreshToken.
func (r *AccountRepository) Save(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = time.Now().UTC()

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET
				name = $2, role = $3, status = $4, password_hash = $5,
				failed_login_attempts = $6, lock_until = $7, session_version = $8,
				two_factor_enabled = $9, two_factor_secret = $10, two_factor_nonce = $11, backup_codes = $12,
				updated_at = $13
			WHERE id = $1
		`,
			account.ID, account.Name, account.Role, account.Status, account.PasswordHash,
			account.FailedLoginAttempts, account.LockUntil, account.SessionVersion,
			account.TwoFactorEnabled, account.TwoFactorSecret, account.TwoFactorNonce, pq.Array(nonNil(account.BackupCodes)),
			account.UpdatedAt,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM login_history WHERE account_id = $1`, account.ID); err != nil {
			return database.MapPostgresError(err)
		}
		return writeLoginHistory(ctx, tx, account.ID, account.LoginHistory)
	})
}

func writeLoginHistory(ctx context.Context, tx pgx.Tx, accountID string, history []models.LoginHistoryEntry) error {
	if len(history) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, e := range history {
		batch.Queue(`
			INSERT INTO login_history (account_id, position, ip, user_agent, device_key, country, state, city,
				local_time, language, device_type, os, client, is_active, seen_at, signature)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, accountID, i, e.IP, e.UserAgent, e.DeviceKey, e.Country, e.State, e.City,
			e.LocalTime, e.Language, e.DeviceType, e.OS, e.Client, e.IsActive, e.Timestamp, e.Signature)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write login history: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *AccountRepository) UpdateRefreshToken(ctx context.Context, id string, refreshToken *string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE accounts SET refresh_token = $2, updated_at = NOW() WHERE id = $1`, id, refreshToken)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// IncrementFailedLogins records one failed password check in a single
// statement. An expired lock restarts the count at 1; reaching maxAttempts
// sets lock_until to lockUntil.
func (r *AccountRepository) IncrementFailedLogins(ctx context.Context, id string, maxAttempts int, lockUntil, now time.Time) (int, *time.Time, error) {
	var attempts int
	var lockedUntil *time.Time

	err := r.db.Pool.QueryRow(ctx, `
		UPDATE accounts SET
			failed_login_attempts = CASE
				WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN 1
				ELSE failed_login_attempts + 1
			END,
			lock_until = CASE
				WHEN (CASE
					WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN 1
					ELSE failed_login_attempts + 1
				END) >= $3 THEN $4
				WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN NULL
				ELSE lock_until
			END,
			updated_at = $2
		WHERE id = $1
		RETURNING failed_login_attempts, lock_until
	`, id, now, maxAttempts, lockUntil).Scan(&attempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, models.ErrNotFound
		}
		return 0, nil, database.MapPostgresError(err)
	}

	return attempts, lockedUntil, nil
}

func nonNil(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}
