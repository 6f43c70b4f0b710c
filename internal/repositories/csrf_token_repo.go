package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/sessioncore/internal/database"
	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// CSRFTokenRepository is the Postgres CSRF token ledger.
type CSRFTokenRepository struct {
	db *database.DB
}

func NewCSRFTokenRepository(db *database.DB) *CSRFTokenRepository {
	return &CSRFTokenRepository{db: db}
}

func (r *CSRFTokenRepository) Get(ctx context.Context, token string) (*models.CSRFToken, error) {
	var t models.CSRFToken
	var usedIPs []string

	err := r.db.Pool.QueryRow(ctx, `
		SELECT token, user_id, expires_at, used, used_ips, created_at
		FROM csrf_tokens WHERE token = $1
	`, token).Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.Used, pq.Array(&usedIPs), &t.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	t.UsedIPs = usedIPs
	return &t, nil
}

func (r *CSRFTokenRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM csrf_tokens WHERE token = $1`, token); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// ReplaceForUser purges every token of the user and inserts t in one
// transaction, so a user never holds more than one live token.
func (r *CSRFTokenRepository) ReplaceForUser(ctx context.Context, t *models.CSRFToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM csrf_tokens WHERE user_id = $1`, t.UserID); err != nil {
			return database.MapPostgresError(err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO csrf_tokens (token, user_id, expires_at, used, used_ips, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, t.Token, t.UserID, t.ExpiresAt, t.Used, pq.Array(nonNil(t.UsedIPs)), t.CreatedAt)
		if err != nil {
			return database.MapPostgresError(err)
		}
		return nil
	})
}

func (r *CSRFTokenRepository) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM csrf_tokens WHERE user_id = $1`, userID); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// TrackUsage adds ip to the token's used_ips set.
func (r *CSRFTokenRepository) TrackUsage(ctx context.Context, token, ip string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE csrf_tokens SET used_ips = array_append(used_ips, $2)
		WHERE token = $1 AND NOT ($2 = ANY(used_ips))
	`, token, ip)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// Consume marks the token used if it belongs to userID and is still unused and
// unexpired at now. It reports false when no row qualified.
func (r *CSRFTokenRepository) Consume(ctx context.Context, token, userID string, now time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE csrf_tokens SET used = TRUE
		WHERE token = $1 AND user_id = $2 AND used = FALSE AND expires_at > $3
	`, token, userID, now)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CSRFTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM csrf_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to delete expired csrf tokens: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
