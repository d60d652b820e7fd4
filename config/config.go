// Package config defines the settings a database integration test suite runs with:
// which database to provision, the scripts that destroy and create its schema, the
// databases to reset before every test, and where fixture files live.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Supported database types.
const (
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
	TypeMongoDB  = "mongodb"
)

// SupportedTypes is the fixed set of database types a settings file may declare.
var SupportedTypes = []string{TypePostgres, TypeSQLite, TypeMongoDB}

// ErrInvalidSettings is returned when settings are missing required fields or declare
// an unsupported database type.
var ErrInvalidSettings = errors.New("invalid settings")

// Database describes the database a handler is bound to. Type selects the handler;
// the remaining fields are interpreted by that handler.
type Database struct {
	Type string `hcl:"type" yaml:"type"` // postgres, sqlite or mongodb

	DSN  string `hcl:"dsn,optional" yaml:"dsn"`   // Connection string (postgres, mongodb).
	Name string `hcl:"name,optional" yaml:"name"` // Database to connect to (postgres: created when CreateDatabase; mongodb: default db).
	Path string `hcl:"path,optional" yaml:"path"` // Database file for sqlite, or ":memory:".

	// Embedded postgres server settings. Ignored unless Embedded is true.
	Embedded     bool   `hcl:"embedded,optional" yaml:"embedded"`
	Host         string `hcl:"host,optional" yaml:"host"`
	Port         uint32 `hcl:"port,optional" yaml:"port"` // 0 selects a free port.
	Username     string `hcl:"username,optional" yaml:"username"`
	Password     string `hcl:"password,optional" yaml:"password"`
	Version      string `hcl:"version,optional" yaml:"version"`
	StartTimeout string `hcl:"start_timeout,optional" yaml:"start_timeout"` // Go duration, e.g. "30s".

	CreateDatabase bool `hcl:"create_database,optional" yaml:"create_database"` // Create Name before use.
	KeepDatabase   bool `hcl:"keep_database,optional" yaml:"keep_database"`     // Do not drop a created database on close.
}

// StartTimeoutDuration parses StartTimeout, falling back to def when unset.
func (d Database) StartTimeoutDuration(def time.Duration) (time.Duration, error) {
	if d.StartTimeout == "" {
		return def, nil
	}
	return time.ParseDuration(d.StartTimeout)
}

// Settings is the configuration of one test suite. It is loaded once when the suite
// starts and treated as immutable afterwards.
type Settings struct {
	Database       Database `hcl:"database,block" yaml:"database"`
	DestroyScripts []string `hcl:"destroy_db_scripts,optional" yaml:"destroy_db_scripts"`
	CreateScripts  []string `hcl:"create_db_scripts,optional" yaml:"create_db_scripts"`
	ResetDBs       []string `hcl:"reset_dbs,optional" yaml:"reset_dbs"`
	FixturesDir    string   `hcl:"fixtures_dir" yaml:"fixtures_dir"`
}

// Validate checks that the database type is supported and that the fields the
// selected handler needs are present. It performs no database work.
func (s *Settings) Validate() error {
	var errs []string
	db := s.Database
	if !slices.Contains(SupportedTypes, db.Type) {
		errs = append(errs, fmt.Sprintf("database type %q is not one of %s", db.Type, strings.Join(SupportedTypes, ", ")))
	}
	if s.FixturesDir == "" {
		errs = append(errs, "fixtures_dir must not be empty")
	}

	switch db.Type {
	case TypePostgres:
		if db.DSN == "" && !db.Embedded {
			errs = append(errs, "postgres requires dsn or embedded = true")
		}
		if db.CreateDatabase && db.Name == "" {
			errs = append(errs, "create_database requires name")
		}
	case TypeSQLite:
		if db.Path == "" {
			errs = append(errs, "sqlite requires path")
		}
	case TypeMongoDB:
		if db.DSN == "" {
			errs = append(errs, "mongodb requires dsn")
		}
		if db.Name == "" {
			errs = append(errs, "mongodb requires name")
		}
	}
	if _, err := db.StartTimeoutDuration(0); err != nil {
		errs = append(errs, fmt.Sprintf("start_timeout: %v", err))
	}
	for i, script := range s.DestroyScripts {
		if script == "" {
			errs = append(errs, fmt.Sprintf("destroy_db_scripts[%d] is empty", i))
		}
	}
	for i, script := range s.CreateScripts {
		if script == "" {
			errs = append(errs, fmt.Sprintf("create_db_scripts[%d] is empty", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(errs, ", "))
	}
	return nil
}

// Clone returns a deep copy so the caller's slices cannot change a running suite.
func (s Settings) Clone() Settings {
	s.DestroyScripts = slices.Clone(s.DestroyScripts)
	s.CreateScripts = slices.Clone(s.CreateScripts)
	s.ResetDBs = slices.Clone(s.ResetDBs)
	return s
}

// DefaultSettings returns settings for a throwaway sqlite database with fixtures
// under testdata/fixtures.
func DefaultSettings() Settings {
	return Settings{
		Database: Database{
			Type: TypeSQLite,
			Path: ":memory:",
		},
		ResetDBs:    []string{"main"},
		FixturesDir: "testdata/fixtures",
	}
}
