// Package postgres implements handler.Handler for PostgreSQL.
//
// The handler connects to an existing server through a DSN, or starts an embedded
// server for the lifetime of the suite. Optionally it creates the target database
// first and drops it again on Close.
//
// Destroy and create scripts are SQL files run with the simple query protocol, so a
// file may hold many statements. A create script may also be a directory, which is
// applied as an Atlas migration directory. Fixtures are SQL files loaded in one
// transaction each. Reset targets are schema names; every table in them is
// truncated and its identity sequences restarted.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/handler"
	"github.com/dmicanzerofox/db-integ-test-utils/internal/cleanup"
)

const defaultStartTimeout = 30 * time.Second

// Handler runs scripts and fixtures against one PostgreSQL database.
type Handler struct {
	desc    config.Database
	pool    *pgxpool.Pool
	dsn     string // DSN of the target database
	logger  *zap.Logger
	cleanup *cleanup.Manager
}

var _ handler.Handler = (*Handler)(nil)

// Open is a handler.Factory for config.TypePostgres.
func Open(ctx context.Context, desc config.Database, logger *zap.Logger) (_ handler.Handler, err error) {
	h := &Handler{
		desc:    desc,
		logger:  logger,
		cleanup: cleanup.NewManager(logger),
	}
	defer func() {
		if err != nil {
			if cleanupErr := h.cleanup.Execute(); cleanupErr != nil {
				logger.Error("Error during cleanup after open failure", zap.Error(cleanupErr))
			}
		}
	}()

	adminDSN := desc.DSN
	if desc.Embedded {
		if adminDSN, err = h.startEmbedded(ctx); err != nil {
			return nil, err
		}
	}
	if adminDSN == "" {
		return nil, errors.New("postgres requires a dsn or an embedded server")
	}

	if desc.CreateDatabase {
		if err = CreateDatabase(ctx, adminDSN, desc.Name, logger); err != nil {
			return nil, err
		}
		h.cleanup.Add("drop database", DropDatabaseFunc(adminDSN, desc.Name, desc.KeepDatabase, logger))
	}

	h.dsn = adminDSN
	if desc.Name != "" {
		if h.dsn, err = WithDatabase(adminDSN, desc.Name); err != nil {
			return nil, err
		}
	}

	if h.pool, err = connectPool(ctx, h.dsn); err != nil {
		return nil, err
	}
	h.cleanup.Add("close pool", func() error {
		h.pool.Close()
		return nil
	})

	logger.Info("PostgreSQL handler ready", zap.String("database", DatabaseName(h.dsn)))
	return h, nil
}

func connectPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(poolCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx connection pool: %w", err)
	}
	if err := pool.Ping(poolCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database %q: %w", DatabaseName(dsn), err)
	}
	return pool, nil
}

// Pool exposes the connection pool of the target database to tests.
func (h *Handler) Pool() *pgxpool.Pool {
	return h.pool
}

// ConnectionString returns the DSN of the target database.
func (h *Handler) ConnectionString() string {
	return h.dsn
}

// Destroy executes a SQL teardown script.
func (h *Handler) Destroy(ctx context.Context, script string) error {
	h.logger.Debug("Running destroy script", zap.String("script", script))
	return h.execFile(ctx, script)
}

// Initialize runs a SQL file, or applies a directory as Atlas migrations.
func (h *Handler) Initialize(ctx context.Context, script string) error {
	info, err := os.Stat(script)
	if err != nil {
		return fmt.Errorf("failed to stat create script %q: %w", script, err)
	}
	if info.IsDir() {
		return applyMigrations(ctx, h.pool, script, h.logger)
	}
	h.logger.Debug("Running create script", zap.String("script", script))
	return h.execFile(ctx, script)
}

func (h *Handler) execFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %q: %w", path, err)
	}
	if _, err := h.pool.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute script %q: %w", path, err)
	}
	return nil
}

// LoadFixture executes a SQL fixture file inside one transaction.
func (h *Handler) LoadFixture(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture %q: %w", path, err)
	}
	err = pgx.BeginFunc(ctx, h.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, string(content))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to load fixture %q: %w", path, err)
	}
	h.logger.Debug("Loaded fixture", zap.String("fixture", path))
	return nil
}

// Reset truncates every table in the given schemas in a single statement.
func (h *Handler) Reset(ctx context.Context, schemas []string) error {
	if len(schemas) == 0 {
		return nil
	}

	var found []string
	err := h.pool.QueryRow(ctx,
		`SELECT coalesce(array_agg(nspname::text), '{}') FROM pg_namespace WHERE nspname = ANY($1)`,
		schemas,
	).Scan(&found)
	if err != nil {
		return fmt.Errorf("failed to look up schemas %v: %w", schemas, err)
	}
	for _, s := range schemas {
		if !slices.Contains(found, s) {
			return fmt.Errorf("cannot reset schema %q: it does not exist", s)
		}
	}

	rows, err := h.pool.Query(ctx,
		`SELECT schemaname::text, tablename::text FROM pg_tables WHERE schemaname = ANY($1) ORDER BY schemaname, tablename`,
		schemas,
	)
	if err != nil {
		return fmt.Errorf("failed to list tables in %v: %w", schemas, err)
	}
	tables, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var schema, table string
		if err := row.Scan(&schema, &table); err != nil {
			return "", err
		}
		return pgx.Identifier{schema, table}.Sanitize(), nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan table names: %w", err)
	}
	if len(tables) == 0 {
		h.logger.Debug("Nothing to reset", zap.Strings("schemas", schemas))
		return nil
	}

	stmt := "TRUNCATE TABLE " + strings.Join(tables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := h.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to truncate tables in %v: %w", schemas, err)
	}
	h.logger.Debug("Reset schemas", zap.Strings("schemas", schemas), zap.Int("tables", len(tables)))
	return nil
}

// Close releases everything Open acquired, most recent first.
func (h *Handler) Close() error {
	return h.cleanup.Execute()
}
