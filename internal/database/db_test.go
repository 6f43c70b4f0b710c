package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapPostgresError(t *testing.T) {
	other := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), models.ErrNotFound},
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"}, models.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, models.ErrNotFound},
		{"check", &pgconn.PgError{Code: "23514", ConstraintName: "accounts_role_check"}, models.ErrBadRequest},
		{"not null", &pgconn.PgError{Code: "23502", ColumnName: "name"}, models.ErrBadRequest},
		{"passthrough", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapPostgresError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.Contains(t, MapPostgresError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_username_key"}).Error(), "accounts_username_key")
}
