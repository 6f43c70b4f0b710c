package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/sessioncore/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies the embedded schema migrations. goose needs a database/sql
// handle, so one is opened on top of the pool's connection config.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	for _, result := range results {
		logger.Info("migration applied",
			slog.String("source", result.Source.Path),
			slog.Duration("duration", result.Duration))
	}

	return nil
}
