// Package sqlite implements handler.Handler for SQLite using the pure Go
// modernc.org/sqlite driver, so suites can run without an external server.
//
// Scripts and fixtures are SQL files. Reset targets are schema names: "main" for the
// primary database, or the names of attached databases.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/handler"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Handler runs scripts and fixtures against one SQLite database.
type Handler struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var _ handler.Handler = (*Handler)(nil)

// Open is a handler.Factory for config.TypeSQLite.
func Open(ctx context.Context, desc config.Database, logger *zap.Logger) (handler.Handler, error) {
	path := desc.Path
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases are
	// private to the connection that created them.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	logger.Debug("Opened SQLite database", zap.String("path", path))
	return &Handler{db: db, path: path, logger: logger}, nil
}

// DB exposes the underlying connection pool to tests.
func (h *Handler) DB() *sql.DB {
	return h.db
}

// Destroy executes a SQL teardown script.
func (h *Handler) Destroy(ctx context.Context, script string) error {
	h.logger.Debug("Running destroy script", zap.String("script", script))
	return h.execFile(ctx, script)
}

// Initialize executes a SQL schema script.
func (h *Handler) Initialize(ctx context.Context, script string) error {
	h.logger.Debug("Running create script", zap.String("script", script))
	return h.execFile(ctx, script)
}

func (h *Handler) execFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %q: %w", path, err)
	}
	if _, err := h.db.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute script %q: %w", path, err)
	}
	return nil
}

// LoadFixture executes a SQL fixture file in a single transaction.
func (h *Handler) LoadFixture(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture %q: %w", path, err)
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin fixture transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to load fixture %q: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fixture %q: %w", path, err)
	}
	h.logger.Debug("Loaded fixture", zap.String("fixture", path))
	return nil
}

// Reset deletes every row from every user table in the given schemas and clears
// AUTOINCREMENT counters. Foreign keys are disabled for the duration.
func (h *Handler) Reset(ctx context.Context, schemas []string) (err error) {
	conn, err := h.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("failed to disable foreign keys: %w", err)
	}
	defer func() {
		if _, fkErr := conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA foreign_keys = ON"); fkErr != nil && err == nil {
			err = fmt.Errorf("failed to re-enable foreign keys: %w", fkErr)
		}
	}()

	for _, schema := range schemas {
		tables, err := userTables(ctx, conn, schema)
		if err != nil {
			return err
		}
		for _, table := range tables {
			if _, err := conn.ExecContext(ctx, "DELETE FROM "+pgx.Identifier{schema, table}.Sanitize()); err != nil {
				return fmt.Errorf("failed to clear %s.%s: %w", schema, table, err)
			}
		}
		hasSeq, err := hasSequenceTable(ctx, conn, schema)
		if err != nil {
			return err
		}
		if hasSeq {
			if _, err := conn.ExecContext(ctx, "DELETE FROM "+pgx.Identifier{schema, "sqlite_sequence"}.Sanitize()); err != nil {
				return fmt.Errorf("failed to reset sequences in %s: %w", schema, err)
			}
		}
		h.logger.Debug("Reset schema", zap.String("schema", schema), zap.Strings("tables", tables))
	}
	return nil
}

// userTables lists the tables of schema, excluding SQLite's internal ones.
// pgx.Identifier produces ANSI double-quoted identifiers, which SQLite accepts.
func userTables(ctx context.Context, conn *sql.Conn, schema string) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT name FROM %s WHERE type = 'table' AND name NOT LIKE 'sqlite\_%%' ESCAPE '\' ORDER BY name`,
		pgx.Identifier{schema, "sqlite_master"}.Sanitize(),
	)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in %s: %w", schema, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func hasSequenceTable(ctx context.Context, conn *sql.Conn, schema string) (bool, error) {
	query := fmt.Sprintf(
		"SELECT count(*) FROM %s WHERE type = 'table' AND name = 'sqlite_sequence'",
		pgx.Identifier{schema, "sqlite_master"}.Sanitize(),
	)
	var n int
	if err := conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up sqlite_sequence in %s: %w", schema, err)
	}
	return n > 0, nil
}

// Close closes the database. Calling it again is a no-op.
func (h *Handler) Close() error {
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	if err != nil {
		return fmt.Errorf("failed to close SQLite database %s: %w", h.path, err)
	}
	return nil
}
