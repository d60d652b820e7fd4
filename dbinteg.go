package dbinteg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/fixture"
	"github.com/dmicanzerofox/db-integ-test-utils/handler"
	"github.com/dmicanzerofox/db-integ-test-utils/internal/cleanup"
	"github.com/dmicanzerofox/db-integ-test-utils/internal/logger"
)

// ErrKitClosed is returned by PrepareTest after Cleanup.
var ErrKitClosed = errors.New("integ kit is closed")

// IntegKit implements Kit.
type IntegKit struct {
	settings config.Settings
	fixtures *fixture.Registry
	logger   *zap.Logger
	cleanup  *cleanup.Manager

	mu      sync.Mutex
	handler handler.Handler
}

var _ Kit = (*IntegKit)(nil)

// NewIntegKit validates settings, opens the handler for the configured database
// type, and runs every destroy script followed by every create script, in the
// order listed. When t is non-nil, Cleanup is registered with t.Cleanup.
//
// Nothing touches the database when validation fails or the type has no handler.
// If a script fails, the handler is closed and the script error returned.
func NewIntegKit(ctx context.Context, t testing.TB, settings config.Settings, opts ...Option) (_ *IntegKit, err error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts...)

	log := o.logger
	if log == nil {
		if log, err = logger.InitLogger(t, o.zapTestLevel, o.zapOptions...); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	k := &IntegKit{
		settings: settings.Clone(),
		fixtures: o.fixtures,
		logger:   log,
		cleanup:  cleanup.NewManager(log),
	}
	defer func() {
		if err != nil {
			if cleanupErr := k.Cleanup(); cleanupErr != nil {
				k.logger.Error("Error during cleanup after setup failure", zap.Error(cleanupErr))
			}
		}
	}()

	h, err := o.registry.Open(ctx, k.settings.Database, log)
	if err != nil {
		return nil, err
	}
	k.handler = h
	k.cleanup.Add("close handler", k.closeHandler)

	for _, script := range k.settings.DestroyScripts {
		if err = h.Destroy(ctx, script); err != nil {
			return nil, fmt.Errorf("destroy script %q failed: %w", script, err)
		}
	}
	for _, script := range k.settings.CreateScripts {
		if err = h.Initialize(ctx, script); err != nil {
			return nil, fmt.Errorf("create script %q failed: %w", script, err)
		}
	}

	log.Info("Integration kit ready",
		zap.String("type", k.settings.Database.Type),
		zap.Strings("reset_dbs", k.settings.ResetDBs),
	)

	if t != nil {
		t.Cleanup(func() {
			if cleanupErr := k.Cleanup(); cleanupErr != nil {
				t.Errorf("Error during automatic kit cleanup: %v", cleanupErr)
			}
		})
	}
	return k, nil
}

func (k *IntegKit) closeHandler() error {
	k.mu.Lock()
	h := k.handler
	k.handler = nil
	k.mu.Unlock()
	if h == nil {
		return nil
	}
	if err := h.Close(); err != nil {
		return fmt.Errorf("failed to close handler: %w", err)
	}
	return nil
}

// PrepareTest resets the configured databases, then loads each fixture resolved for
// testID from the fixtures directory.
func (k *IntegKit) PrepareTest(ctx context.Context, testID string) error {
	h := k.Handler()
	if h == nil {
		return ErrKitClosed
	}

	if err := h.Reset(ctx, k.settings.ResetDBs); err != nil {
		return fmt.Errorf("failed to reset %v: %w", k.settings.ResetDBs, err)
	}

	files, err := k.fixtures.Resolve(testID)
	if err != nil {
		return err
	}
	for _, f := range files {
		path := filepath.Join(k.settings.FixturesDir, f)
		if err := h.LoadFixture(ctx, path); err != nil {
			return fmt.Errorf("failed to load fixture %q for %s: %w", f, testID, err)
		}
	}
	k.logger.Debug("Prepared test", zap.String("test", testID), zap.Strings("fixtures", files))
	return nil
}

// MustPrepareTest prepares the running test and fails it on error.
func (k *IntegKit) MustPrepareTest(t testing.TB) {
	t.Helper()
	if err := k.PrepareTest(t.Context(), t.Name()); err != nil {
		t.Fatalf("failed to prepare %s: %v", t.Name(), err)
	}
}

// Fixtures returns the fixture registry the kit resolves against.
func (k *IntegKit) Fixtures() *fixture.Registry {
	return k.fixtures
}

// Handler returns the open handler, or nil after Cleanup.
func (k *IntegKit) Handler() handler.Handler {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.handler
}

// Settings returns a copy of the kit settings.
func (k *IntegKit) Settings() config.Settings {
	return k.settings.Clone()
}

// Logger returns the kit's logger, for handlers and helpers built on top of it.
func (k *IntegKit) Logger() *zap.Logger {
	return k.logger
}

// Cleanup closes the handler. It is safe after a failed start and runs once.
func (k *IntegKit) Cleanup() error {
	return k.cleanup.Execute()
}
