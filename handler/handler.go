// Package handler defines the contract between the test harness and the code that
// actually talks to a database, and a registry that selects an implementation by the
// database type declared in the settings.
package handler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"go.uber.org/zap"
)

// ErrUnsupportedDatabase is returned by Registry.Open when no factory is registered
// for the requested database type.
var ErrUnsupportedDatabase = errors.New("unsupported database type")

// Handler performs every database operation the harness needs for one database.
// Implementations own their connections. Errors are returned as-is to the harness,
// which does not interpret them.
type Handler interface {
	// Destroy runs a teardown script (drop tables, schemas, databases).
	Destroy(ctx context.Context, script string) error
	// Initialize runs a schema creation script.
	Initialize(ctx context.Context, script string) error
	// Reset removes all data from the given databases, leaving the schema in place.
	Reset(ctx context.Context, databases []string) error
	// LoadFixture loads one fixture file.
	LoadFixture(ctx context.Context, path string) error
	// Close releases every resource the handler acquired.
	Close() error
}

// Factory opens a Handler bound to db.
type Factory func(ctx context.Context, db config.Database, logger *zap.Logger) (Handler, error)

// Registry maps database types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for dbType. Registering the same type twice is an error.
func (r *Registry) Register(dbType string, f Factory) error {
	if dbType == "" || f == nil {
		return fmt.Errorf("register handler: type and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[dbType]; ok {
		return fmt.Errorf("register handler: type %q already registered", dbType)
	}
	r.factories[dbType] = f
	return nil
}

// MustRegister is like Register but panics on error. Meant for package-level setup.
func (r *Registry) MustRegister(dbType string, f Factory) *Registry {
	if err := r.Register(dbType, f); err != nil {
		panic(err)
	}
	return r
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Supports reports whether a factory is registered for dbType.
func (r *Registry) Supports(dbType string) bool {
	return slices.Contains(r.Types(), dbType)
}

// Open creates a handler for db using the factory registered for db.Type.
func (r *Registry) Open(ctx context.Context, db config.Database, logger *zap.Logger) (Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[db.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnsupportedDatabase, db.Type, r.Types())
	}
	h, err := f(ctx, db, logger.With(zap.String("handler", db.Type)))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s handler: %w", db.Type, err)
	}
	return h, nil
}
