package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrations embed.FS

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// Migrate applies the embedded schema migrations for the driver's dialect.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	dir, dialect, err := migrationSource(driver)
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func migrationSource(driver string) (dir, dialect string, err error) {
	switch driver {
	case DriverMySQL:
		return "migrations/mysql", "mysql", nil
	case DriverPostgres:
		return "migrations/postgres", "postgres", nil
	}
	return "", "", fmt.Errorf("no migrations for driver %q", driver)
}
