package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/migrate"

	"studyquiz/internal/db/migrations"
)

// Migrate applies pending schema migrations and returns the names applied.
// The caller keeps ownership of sqldb.
func Migrate(ctx context.Context, sqldb *sql.DB) ([]string, error) {
	migrator, err := newMigrator(ctx, sqldb)
	if err != nil {
		return nil, err
	}
	if err := migrator.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	defer func() { _ = migrator.Unlock(ctx) }()

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return migrationNames(group), nil
}

// Rollback reverts the most recently applied migration group.
func Rollback(ctx context.Context, sqldb *sql.DB) ([]string, error) {
	migrator, err := newMigrator(ctx, sqldb)
	if err != nil {
		return nil, err
	}
	if err := migrator.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	defer func() { _ = migrator.Unlock(ctx) }()

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return nil, fmt.Errorf("rollback migrations: %w", err)
	}
	return migrationNames(group), nil
}

// Pending lists migrations that have not been applied yet.
func Pending(ctx context.Context, sqldb *sql.DB) ([]string, error) {
	migrator, err := newMigrator(ctx, sqldb)
	if err != nil {
		return nil, err
	}
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	var out []string
	for _, m := range ms.Unapplied() {
		out = append(out, m.String())
	}
	return out, nil
}

func newMigrator(ctx context.Context, sqldb *sql.DB) (*migrate.Migrator, error) {
	bdb := bun.NewDB(sqldb, pgdialect.New())
	migrator := migrate.NewMigrator(bdb, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	return migrator, nil
}

func migrationNames(group *migrate.MigrationGroup) []string {
	if group == nil || group.IsZero() {
		return nil
	}
	out := make([]string, 0, len(group.Migrations))
	for _, m := range group.Migrations {
		out = append(out, m.String())
	}
	return out
}
