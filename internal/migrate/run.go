// Package migrate applies the embedded SQL schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run applies every embedded migration not yet recorded in
// schema_migrations, in lexical filename order. Safe to call repeatedly.
func Run(ctx context.Context, db *sql.DB) error {
	if err := ensureVersionTable(ctx, db); err != nil {
		return err
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}

	logger := slog.Default().With("component", "migrations")
	for _, f := range files {
		applied, checkErr := versionApplied(ctx, db, f)
		if checkErr != nil {
			return checkErr
		}
		if applied {
			continue
		}
		if applyErr := apply(ctx, db, logger, f); applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// migrationFile is one embedded migration, named NNNN_description.sql; the
// filename without extension is its recorded version.
type migrationFile struct {
	version string
	name    string
}

func ensureVersionTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func migrationFiles() ([]migrationFile, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, migrationFile{
			version: strings.TrimSuffix(e.Name(), ".sql"),
			name:    e.Name(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

func versionApplied(ctx context.Context, db *sql.DB, f migrationFile) (bool, error) {
	var applied bool
	query := `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`
	if err := db.QueryRowContext(ctx, query, f.version).Scan(&applied); err != nil {
		return false, fmt.Errorf("check migration %s: %w", f.name, err)
	}
	return applied, nil
}

func apply(ctx context.Context, db *sql.DB, logger *slog.Logger, f migrationFile) error {
	stmts, err := migrationsFS.ReadFile("migrations/" + f.name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", f.name, err)
	}

	logger.InfoContext(ctx, "applying migration", "version", f.version)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			logger.ErrorContext(ctx, "rollback migration failed",
				"version", f.version,
				"error", rollbackErr,
			)
		}
	}()

	if _, execErr := tx.ExecContext(ctx, string(stmts)); execErr != nil {
		return fmt.Errorf("exec migration %s: %w", f.name, execErr)
	}
	if _, insertErr := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1)`, f.version); insertErr != nil {
		return fmt.Errorf("record migration %s: %w", f.name, insertErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit migration %s: %w", f.name, commitErr)
	}
	return nil
}
