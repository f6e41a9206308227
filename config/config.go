// Package config loads server configuration from a YAML file with
// environment overrides. All fields have working defaults so the server
// runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "5s".
type Duration time.Duration

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config models approval-engine.yml.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	// Upstream configures the remote store clients. When both base URLs are
	// empty the server runs against its own SQLite store instead.
	Upstream struct {
		RequestBaseURL string   `yaml:"request_base_url"`
		BillingBaseURL string   `yaml:"billing_base_url"`
		Timeout        Duration `yaml:"timeout"`
	} `yaml:"upstream"`

	Reconciler struct {
		ConceptMaxLen int `yaml:"concept_max_len"`
	} `yaml:"reconciler"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Database.Path = "approval.db"
	cfg.Upstream.Timeout = Duration(10 * time.Second)
	return &cfg
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays APPROVAL_* environment variables on the loaded file.
func (c *Config) applyEnv() {
	if v := os.Getenv("APPROVAL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("APPROVAL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("APPROVAL_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("APPROVAL_REQUEST_BASE_URL"); v != "" {
		c.Upstream.RequestBaseURL = v
	}
	if v := os.Getenv("APPROVAL_BILLING_BASE_URL"); v != "" {
		c.Upstream.BillingBaseURL = v
	}
	if v := os.Getenv("APPROVAL_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Upstream.Timeout = Duration(d)
		}
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config.database.path is required")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("config.upstream.timeout must be positive")
	}
	if (c.Upstream.RequestBaseURL == "") != (c.Upstream.BillingBaseURL == "") {
		return fmt.Errorf("config.upstream requires both base urls or neither")
	}
	if c.Reconciler.ConceptMaxLen < 0 {
		return fmt.Errorf("config.reconciler.concept_max_len must not be negative")
	}
	return nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}

// UseRemoteStores reports whether the server should talk to remote store
// services instead of its local SQLite store.
func (c *Config) UseRemoteStores() bool {
	return c.Upstream.RequestBaseURL != "" && c.Upstream.BillingBaseURL != ""
}
