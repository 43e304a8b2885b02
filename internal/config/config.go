// Package config loads application settings from THESISGEN_* environment
// variables with an optional locally persisted YAML override file. The
// override file is what the setup flow writes when credentials are entered
// interactively instead of being provisioned through the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the setup flow persists overrides when no explicit
// path is configured.
const DefaultPath = "thesisgen.yaml"

// Config holds every setting the application reads at startup. Empty fields
// fall back to each subsystem's own default.
type Config struct {
	// GenerationAPIKey authenticates against the hosted generation service.
	GenerationAPIKey string `yaml:"generation_api_key"`
	// GenerationModel overrides the default model name.
	GenerationModel string `yaml:"generation_model"`

	// IdentityAPIKey authenticates against the hosted identity service.
	IdentityAPIKey string `yaml:"identity_api_key"`
	// IdentityEndpoint overrides the identity service base URL.
	IdentityEndpoint string `yaml:"identity_endpoint"`

	// StorageDriver selects the persistent store (memory|sqlite|postgres).
	StorageDriver string `yaml:"storage_driver"`
	// BlobDriver selects the draft/export blob store (fs|s3|memory).
	BlobDriver string `yaml:"blob_driver"`

	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`
}

// MissingCredentialsError reports which required credentials are absent. The
// shell treats it as a configuration error and stays in setup.
type MissingCredentialsError struct {
	Missing []string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing credentials: %s", strings.Join(e.Missing, ", "))
}

// FromEnv reads settings from the process environment.
func FromEnv() Config {
	return Config{
		GenerationAPIKey: os.Getenv("THESISGEN_GENERATION_API_KEY"),
		GenerationModel:  os.Getenv("THESISGEN_GENERATION_MODEL"),
		IdentityAPIKey:   os.Getenv("THESISGEN_IDENTITY_API_KEY"),
		IdentityEndpoint: os.Getenv("THESISGEN_IDENTITY_ENDPOINT"),
		StorageDriver:    os.Getenv("THESISGEN_STORAGE_DRIVER"),
		BlobDriver:       os.Getenv("THESISGEN_BLOB_DRIVER"),
		ListenAddr:       os.Getenv("THESISGEN_ADDR"),
	}
}

// Load combines environment settings with the YAML override file at path,
// when it exists. File values win over environment values so interactively
// captured credentials survive restarts. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if path == "" {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var overrides Config
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.merge(overrides)
	return cfg, nil
}

// Save persists cfg as the YAML override file at path.
func (c Config) Save(path string) error {
	if path == "" {
		path = DefaultPath
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// ValidateCredentials reports the credentials the hosted services require.
func (c Config) ValidateCredentials() error {
	var missing []string
	if c.GenerationAPIKey == "" {
		missing = append(missing, "generation_api_key")
	}
	if c.IdentityAPIKey == "" {
		missing = append(missing, "identity_api_key")
	}
	if len(missing) > 0 {
		return &MissingCredentialsError{Missing: missing}
	}
	return nil
}

func (c *Config) merge(overrides Config) {
	if overrides.GenerationAPIKey != "" {
		c.GenerationAPIKey = overrides.GenerationAPIKey
	}
	if overrides.GenerationModel != "" {
		c.GenerationModel = overrides.GenerationModel
	}
	if overrides.IdentityAPIKey != "" {
		c.IdentityAPIKey = overrides.IdentityAPIKey
	}
	if overrides.IdentityEndpoint != "" {
		c.IdentityEndpoint = overrides.IdentityEndpoint
	}
	if overrides.StorageDriver != "" {
		c.StorageDriver = overrides.StorageDriver
	}
	if overrides.BlobDriver != "" {
		c.BlobDriver = overrides.BlobDriver
	}
	if overrides.ListenAddr != "" {
		c.ListenAddr = overrides.ListenAddr
	}
}
