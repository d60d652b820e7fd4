package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	_ "github.com/lib/pq" // "postgres" driver for admin connections
	"go.uber.org/zap"

	"github.com/dmicanzerofox/db-integ-test-utils/internal/cleanup"
)

// maxIdentifierLen is PostgreSQL's NAMEDATALEN - 1.
const maxIdentifierLen = 63

// CreateDatabase connects to the database adminDSN names and creates name.
func CreateDatabase(ctx context.Context, adminDSN, name string, logger *zap.Logger) error {
	db, err := sql.Open("postgres", adminDSN)
	if err != nil {
		return fmt.Errorf("failed to open admin connection: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping admin database %q: %w", DatabaseName(adminDSN), err)
	}

	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create database %q: %w", name, err)
	}
	logger.Info("Created database", zap.String("database", name))
	return nil
}

// DropDatabaseFunc returns a cleanup step that terminates the sessions of name and
// drops it. With keep set the step only logs.
func DropDatabaseFunc(adminDSN, name string, keep bool, logger *zap.Logger) cleanup.Func {
	return func() error {
		if keep {
			logger.Info("Keeping database", zap.String("database", name))
			return nil
		}

		db, err := sql.Open("postgres", adminDSN)
		if err != nil {
			return fmt.Errorf("failed to open admin connection to drop %q: %w", name, err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		_, err = db.ExecContext(ctx,
			`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
			name,
		)
		if err != nil {
			logger.Warn("Failed to terminate connections before drop", zap.String("database", name), zap.Error(err))
		}

		if _, err := db.ExecContext(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
			return fmt.Errorf("failed to drop database %q: %w", name, err)
		}
		logger.Info("Dropped database", zap.String("database", name))
		return nil
	}
}

// GenerateUniqueName appends a random suffix to prefix. The result is lowercase,
// uses underscores only, and fits a PostgreSQL identifier.
func GenerateUniqueName(prefix string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate unique name: %w", err)
	}
	name := strings.ToLower(prefix + strings.ReplaceAll(id.String(), "-", ""))
	name = strings.ReplaceAll(name, "-", "_")
	if len(name) > maxIdentifierLen {
		name = name[:maxIdentifierLen]
	}
	return name, nil
}
