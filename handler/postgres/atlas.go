package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ariga.io/atlas/sql/migrate"
	atlaspg "ariga.io/atlas/sql/postgres"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// AtlasConfigFile is looked up inside a migration directory. When present, its
// env blocks decide which directory actually holds the migrations.
const AtlasConfigFile = "atlas.hcl"

const migrateTimeout = 90 * time.Second

// applyMigrations applies every pending migration in dir. The directory must carry
// an atlas.sum file, as written by "atlas migrate hash".
func applyMigrations(ctx context.Context, pool *pgxpool.Pool, dir string, logger *zap.Logger) error {
	logger = logger.With(zap.String("migrator", "atlas"))

	migrationDir, err := ResolveMigrationDir(dir, logger)
	if err != nil {
		return err
	}
	localDir, err := migrate.NewLocalDir(migrationDir)
	if err != nil {
		return fmt.Errorf("failed to open migration directory %q: %w", migrationDir, err)
	}

	applyCtx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	drv, err := atlaspg.Open(db)
	if err != nil {
		return fmt.Errorf("failed to open atlas postgres driver: %w", err)
	}
	exec, err := migrate.NewExecutor(drv, localDir, migrate.NopRevisionReadWriter{},
		migrate.WithLogger(&zapMigrateLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("failed to create atlas executor: %w", err)
	}

	if err := exec.ExecuteN(applyCtx, 0); err != nil {
		if errors.Is(err, migrate.ErrNoPendingFiles) {
			logger.Info("No pending migrations", zap.String("dir", migrationDir))
			return nil
		}
		return fmt.Errorf("failed to apply migrations from %q: %w", migrationDir, err)
	}
	logger.Info("Applied migrations", zap.String("dir", migrationDir))
	return nil
}

// ResolveMigrationDir returns the absolute migration directory for dir. Without an
// atlas.hcl in dir, that is dir itself. Otherwise it is the migration.dir of the
// "local" env, or of the first env declaring one, relative to the file.
func ResolveMigrationDir(dir string, logger *zap.Logger) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migration directory %q: %w", dir, err)
	}

	hclPath := filepath.Join(absDir, AtlasConfigFile)
	if _, err := os.Stat(hclPath); err != nil {
		if os.IsNotExist(err) {
			return absDir, nil
		}
		return "", fmt.Errorf("failed to stat %s: %w", hclPath, err)
	}

	var conf atlasConfigHCL
	if err := hclsimple.DecodeFile(hclPath, nil, &conf); err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", hclPath, err)
	}
	rel, ok := conf.migrationDir(logger)
	if !ok {
		return "", fmt.Errorf("%s declares no env with a migration dir", hclPath)
	}
	return filepath.Join(absDir, filepath.FromSlash(strings.TrimPrefix(rel, "file://"))), nil
}

type atlasConfigHCL struct {
	Envs   []*atlasEnvHCL `hcl:"env,block"`
	Remain hcl.Body       `hcl:",remain"`
}

type atlasEnvHCL struct {
	Name      string             `hcl:"name,label"`
	Migration *atlasMigrationHCL `hcl:"migration,block"`
	Remain    hcl.Body           `hcl:",remain"`
}

type atlasMigrationHCL struct {
	Dir    string   `hcl:"dir,optional"`
	Remain hcl.Body `hcl:",remain"`
}

func (c *atlasConfigHCL) migrationDir(logger *zap.Logger) (string, bool) {
	var first *atlasEnvHCL
	for _, env := range c.Envs {
		if env.Migration == nil || env.Migration.Dir == "" {
			continue
		}
		if env.Name == "local" {
			return env.Migration.Dir, true
		}
		if first == nil {
			first = env
		}
	}
	if first == nil {
		return "", false
	}
	logger.Warn("No 'local' env with a migration dir, falling back to the first env",
		zap.String("env", first.Name), zap.String("dir", first.Migration.Dir))
	return first.Migration.Dir, true
}

// zapMigrateLogger adapts a *zap.Logger to migrate.Logger.
type zapMigrateLogger struct {
	logger *zap.Logger
}

func (l *zapMigrateLogger) Log(entry migrate.LogEntry) {
	switch e := entry.(type) {
	case migrate.LogExecution:
		l.logger.Info("Migration execution starting",
			zap.String("from_version", e.From),
			zap.String("to_version", e.To),
			zap.Int("num_files", len(e.Files)),
		)
	case migrate.LogFile:
		l.logger.Info("Applying migration file", zap.String("file", e.File.Name()))
	case migrate.LogStmt:
		l.logger.Debug("Executing statement", zap.String("sql", e.SQL))
	case migrate.LogError:
		l.logger.Error("Migration error", zap.String("sql", e.SQL), zap.Error(e.Error))
	case migrate.LogDone:
		l.logger.Info("Migration execution finished")
	}
}
