package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvSettings names the environment variable holding the path of the settings file.
const EnvSettings = "DB_TEST_SETTINGS"

// ErrNoSettingsFile is returned by LoadFromEnv when EnvSettings is unset.
var ErrNoSettingsFile = errors.New(EnvSettings + " is not set")

// LoadFromEnv loads the settings file named by DB_TEST_SETTINGS. A .env file in the
// working directory is read first, so the variable may be declared there.
func LoadFromEnv() (Settings, error) {
	_ = godotenv.Load() // Optional; a missing .env is not an error.

	path := os.Getenv(EnvSettings)
	if path == "" {
		return Settings{}, ErrNoSettingsFile
	}
	return LoadFile(path)
}

// LoadFile decodes a settings file. The format follows the extension: .hcl and .json
// are decoded as HCL, .yaml and .yml as YAML. The result is not validated.
func LoadFile(path string) (Settings, error) {
	var s Settings
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl", ".json":
		if err := hclsimple.DecodeFile(path, nil, &s); err != nil {
			return Settings{}, fmt.Errorf("failed to decode settings file %q: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read settings file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("failed to decode settings file %q: %w", path, err)
		}
	default:
		return Settings{}, fmt.Errorf("%w: unsupported settings file extension %q", ErrInvalidSettings, ext)
	}
	return s, nil
}
