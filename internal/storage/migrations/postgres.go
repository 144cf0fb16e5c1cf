package migrations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"futarchy-lobbyist/internal/storage/postgres"
)

// ErrSchemaIncomplete is returned when migrations ran but a ledger table is still missing.
var ErrSchemaIncomplete = errors.New("ledger schema incomplete")

// RunPostgresMigrations applies the embedded account and venue schema. Each
// file runs in its own transaction so a failing file leaves nothing half
// created. Afterwards every table the account and venue stores use must exist.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := migrationFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, m := range files {
		if err := applyPostgres(ctx, pool, m); err != nil {
			return &MigrationError{Database: "postgres", File: m.name, Err: err}
		}
	}

	return verifyPostgresSchema(ctx, pool)
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func verifyPostgresSchema(ctx context.Context, pool *postgres.Pool) error {
	var missing []string
	for _, table := range postgresTables {
		var exists bool
		if err := pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("postgres tables %s: %w", strings.Join(missing, ", "), ErrSchemaIncomplete)
	}
	return nil
}
