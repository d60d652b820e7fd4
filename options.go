package dbinteg

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/fixture"
	"github.com/dmicanzerofox/db-integ-test-utils/handler"
	"github.com/dmicanzerofox/db-integ-test-utils/handler/mongodb"
	"github.com/dmicanzerofox/db-integ-test-utils/handler/postgres"
	"github.com/dmicanzerofox/db-integ-test-utils/handler/sqlite"
)

// Option configures NewIntegKit.
type Option func(*options)

type options struct {
	registry     *handler.Registry
	fixtures     *fixture.Registry
	logger       *zap.Logger
	zapOptions   []zap.Option
	zapTestLevel *zap.AtomicLevel
}

func applyOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	if o.fixtures == nil {
		o.fixtures = fixture.NewRegistry()
	}
	return o
}

// WithRegistry replaces the handler registry used to open the database handler.
func WithRegistry(r *handler.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithFixtureRegistry makes the kit resolve fixtures against r, so declarations
// can be shared between kits or made before the kit starts.
func WithFixtureRegistry(r *fixture.Registry) Option {
	return func(o *options) {
		o.fixtures = r
	}
}

// WithLogger uses l as is. WithZapOptions and WithZapTestLevel are ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithZapOptions adds options to the logger the kit builds.
func WithZapOptions(zapOpts ...zap.Option) Option {
	return func(o *options) {
		o.zapOptions = append(o.zapOptions, zapOpts...)
	}
}

// WithZapTestLevel sets the minimum level of the kit's logger.
func WithZapTestLevel(level zapcore.Level) Option {
	return func(o *options) {
		l := zap.NewAtomicLevelAt(level)
		o.zapTestLevel = &l
	}
}

// DefaultRegistry returns a registry with the bundled postgres, sqlite and mongodb
// handlers.
func DefaultRegistry() *handler.Registry {
	return handler.NewRegistry().
		MustRegister(config.TypePostgres, postgres.Open).
		MustRegister(config.TypeSQLite, sqlite.Open).
		MustRegister(config.TypeMongoDB, mongodb.Open)
}
