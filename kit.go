package dbinteg

import (
	"context"
	"testing"

	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/fixture"
	"github.com/dmicanzerofox/db-integ-test-utils/handler"
)

// Kit is the per-suite harness: it owns the database handler for the lifetime of a
// suite and prepares the database before each test.
type Kit interface {
	// PrepareTest resets the configured databases and loads the fixtures resolved
	// for testID, in order. Loading stops at the first failing fixture.
	PrepareTest(ctx context.Context, testID string) error
	// MustPrepareTest calls PrepareTest with t.Name() and fails t on error.
	MustPrepareTest(t testing.TB)
	// Fixtures returns the registry PrepareTest resolves against.
	Fixtures() *fixture.Registry
	// Handler returns the database handler, or nil once the kit is cleaned up.
	Handler() handler.Handler
	// Settings returns a copy of the settings the kit was started with.
	Settings() config.Settings
	// Cleanup closes the handler. It runs once; later calls return the first result.
	Cleanup() error
}
