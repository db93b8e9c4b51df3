package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
)

const (
	DefaultDir = "pkg/migrate/migrations"
	// the ledger schema relies on Postgres enums, CHECK constraints and
	// triggers; sqlite databases are built with AutoMigrate instead.
	dialect = "postgres"
)

var errNoDB = errors.New("db is required")

func prepare(db *sql.DB, dir string) error {
	if db == nil {
		return errNoDB
	}
	if dir == "" {
		return errors.New("dir is required")
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// Run executes a goose command such as up, down or status against dir.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if err := prepare(db, dir); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion moves the schema up or down until it sits at target.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, target string) error {
	version, err := ParseVersion(target)
	if err != nil {
		return err
	}
	if err := prepare(db, dir); err != nil {
		return err
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case current < version:
		err = goose.UpToContext(ctx, db, dir, version)
	case current > version:
		err = goose.DownToContext(ctx, db, dir, version)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %d -> %d: %w", current, version, err)
	}
	return nil
}
