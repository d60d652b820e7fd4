// Package logger builds the zap logger used by the harness.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// LogDir receives the log file when no test is attached.
const LogDir = ".dbinteg"

// InitLogger returns a zaptest logger bound to t when t is non-nil, honouring
// level when set. Without a test it builds a development logger writing to stdout
// and LogDir/LOG.
func InitLogger(t testing.TB, level *zap.AtomicLevel, opts ...zap.Option) (*zap.Logger, error) {
	if t != nil {
		var testOpts []zaptest.LoggerOption
		if level != nil {
			testOpts = append(testOpts, zaptest.Level(*level))
		}
		l := zaptest.NewLogger(t, testOpts...)
		if len(opts) > 0 {
			l = l.WithOptions(opts...)
		}
		return l, nil
	}

	if err := os.MkdirAll(LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", LogDir, err)
	}
	logFile := filepath.Join(LogDir, "LOG")

	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stdout", logFile}
	cfg.ErrorOutputPaths = []string{"stderr", logFile}
	if level != nil {
		cfg.Level = *level
	}
	l, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return l, nil
}
