package postgres

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/dmicanzerofox/db-integ-test-utils/internal/cleanup"
	"github.com/dmicanzerofox/db-integ-test-utils/internal/logger"
)

const (
	defaultHost     = "localhost"
	defaultUsername = "postgres"
	defaultPassword = "postgres"
	// maintenanceDB is the database the embedded server starts with. Admin
	// statements such as CREATE DATABASE run against it.
	maintenanceDB = "postgres"
)

// startEmbedded starts a server in a fresh runtime directory under logger.LogDir
// and returns a DSN for its maintenance database. Stopping the server and
// removing the directory are registered on h.cleanup.
func (h *Handler) startEmbedded(ctx context.Context) (string, error) {
	host := h.desc.Host
	if host == "" {
		host = defaultHost
	}
	username := h.desc.Username
	if username == "" {
		username = defaultUsername
	}
	password := h.desc.Password
	if password == "" {
		password = defaultPassword
	}
	version := h.desc.Version
	if version == "" {
		version = string(DefaultVersion)
	}
	if !IsSupportedVersion(version) {
		h.logger.Warn("PostgreSQL version is not in the known list, passing it through", zap.String("version", version))
	}

	port := h.desc.Port
	if port == 0 {
		free, err := GetFreePort(host)
		if err != nil {
			return "", fmt.Errorf("failed to get free port: %w", err)
		}
		port = uint32(free)
		h.logger.Info("Assigned random free port", zap.Uint32("port", port))
	}

	name, err := GenerateUniqueName("runtime_")
	if err != nil {
		return "", err
	}
	runtimeDir, err := filepath.Abs(filepath.Join(logger.LogDir, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve runtime directory: %w", err)
	}
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create runtime directory %s: %w", runtimeDir, err)
	}
	h.cleanup.Add("remove runtime directory", func() error {
		if err := os.RemoveAll(runtimeDir); err != nil {
			return fmt.Errorf("failed to remove runtime directory %s: %w", runtimeDir, err)
		}
		return nil
	})

	timeout, err := h.desc.StartTimeoutDuration(defaultStartTimeout)
	if err != nil {
		return "", err
	}
	server, err := StartServer(ctx, ServerConfig{
		Version:      version,
		Port:         port,
		Username:     username,
		Password:     password,
		RuntimePath:  runtimeDir,
		StartTimeout: timeout,
	}, h.logger)
	if err != nil {
		return "", err
	}
	h.cleanup.Add("stop embedded server", StopServerFunc(&server, h.logger))

	return BuildDSN(host, port, username, password, maintenanceDB), nil
}

// ServerConfig holds the settings StartServer passes to embedded-postgres.
type ServerConfig struct {
	Version      string
	Port         uint32
	Username     string
	Password     string
	RuntimePath  string
	BinariesPath string
	StartTimeout time.Duration
}

// StartServer starts an embedded PostgreSQL server. The returned server must be
// stopped with StopServerFunc.
func StartServer(ctx context.Context, cfg ServerConfig, logger *zap.Logger) (*embeddedpostgres.EmbeddedPostgres, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	epCfg := embeddedpostgres.DefaultConfig().
		Version(embeddedpostgres.PostgresVersion(cfg.Version)).
		Port(cfg.Port).
		Database(maintenanceDB).
		Username(cfg.Username).
		Password(cfg.Password).
		RuntimePath(cfg.RuntimePath).
		Logger(&zapio.Writer{Log: logger.Named("embedded-postgres"), Level: zap.DebugLevel})
	if cfg.BinariesPath != "" {
		epCfg = epCfg.BinariesPath(cfg.BinariesPath)
	}
	if cfg.StartTimeout > 0 {
		epCfg = epCfg.StartTimeout(cfg.StartTimeout)
	}

	server := embeddedpostgres.NewDatabase(epCfg)
	logger.Info("Starting embedded postgres server...", zap.Uint32("port", cfg.Port), zap.String("version", cfg.Version))
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded postgres: %w", err)
	}
	logger.Info("Embedded postgres server started.")
	return server, nil
}

// StopServerFunc returns a cleanup step that stops *serverPtr and clears it, so a
// second call is a no-op.
func StopServerFunc(serverPtr **embeddedpostgres.EmbeddedPostgres, logger *zap.Logger) cleanup.Func {
	return func() error {
		server := *serverPtr
		if server == nil {
			return nil
		}
		logger.Debug("Stopping embedded postgres server...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error stopping embedded postgres: %w", err)
		}
		logger.Debug("Embedded postgres server stopped.")
		*serverPtr = nil
		return nil
	}
}

// GetFreePort asks the kernel for a free TCP port on host ("127.0.0.1" when empty).
func GetFreePort(host string) (int, error) {
	if host == "" || host == defaultHost {
		host = "127.0.0.1"
	}
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve tcp address: %w", err)
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to listen on tcp port 0: %w", err)
	}
	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port
	if port == 0 {
		return 0, fmt.Errorf("kernel assigned port 0 unexpectedly")
	}
	return port, nil
}
