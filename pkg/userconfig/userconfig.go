// Package userconfig provides user-level configuration for regard.
// This configuration is stored in ~/.config/regard/config.yaml and names the
// product being tracked, where its events are sent and how they are stored
// locally. Environment variables override the file.
package userconfig

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"

	"github.com/withregard/regard-go/pkg/paths"
)

// Store kinds
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Environment overrides
const (
	EnvEndpoint     = "REGARD_ENDPOINT"
	EnvProduct      = "REGARD_PRODUCT"
	EnvOrganization = "REGARD_ORGANIZATION"
	EnvAPIKey       = "REGARD_API_KEY"
	EnvEnabled      = "REGARD_ENABLED"
	EnvStore        = "REGARD_STORE"
)

// Thresholds mirrors the tracker thresholds with durations as strings
// ("10s", "5m").
type Thresholds struct {
	FreezeEvents int    `yaml:"freeze_events,omitempty"`
	FreezeAge    string `yaml:"freeze_age,omitempty"`
	FlushEvents  int    `yaml:"flush_events,omitempty"`
	FlushAge     string `yaml:"flush_age,omitempty"`
}

// CurrentVersion is the current version of the user config format
const CurrentVersion = "v1"

// Config represents the user-level regard configuration
type Config struct {
	// Version is the config format version
	Version string `yaml:"version,omitempty"`
	// Organization and Product identify the tracker
	Organization string `yaml:"organization,omitempty"`
	Product      string `yaml:"product,omitempty"`
	// Endpoint is the base URL of the collection service
	Endpoint string `yaml:"endpoint,omitempty"`
	// APIKey is sent in APIKeyHeader (default X-Api-Key) with every batch
	APIKey       string `yaml:"api_key,omitempty"`
	APIKeyHeader string `yaml:"api_key_header,omitempty"`
	// Enabled is the kill switch. Unset means enabled.
	Enabled *bool `yaml:"enabled,omitempty"`
	// Store is one of file, sqlite or memory. Defaults to file.
	Store string `yaml:"store,omitempty"`
	// FlushInterval is how often cached events are checked for age. "0"
	// disables the background check.
	FlushInterval string      `yaml:"flush_interval,omitempty"`
	Thresholds    *Thresholds `yaml:"thresholds,omitempty"`
}

// Path returns the path to the config file
func Path() string {
	return filepath.Join(paths.GetConfigDir(), "config.yaml")
}

// ConsentPath returns where the consent decision is persisted
func ConsentPath() string {
	return filepath.Join(paths.GetConfigDir(), "consent.yaml")
}

// UserIDPath returns where the anonymous user ID is persisted
func UserIDPath() string {
	return filepath.Join(paths.GetConfigDir(), "user-id")
}

// FrozenDir returns the directory of the file store
func FrozenDir() string {
	return filepath.Join(paths.GetDataDir(), "frozen")
}

// DatabasePath returns the path of the sqlite store
func DatabasePath() string {
	return filepath.Join(paths.GetDataDir(), "regard.db")
}

// Load loads the user configuration from the config file and applies
// environment overrides.
func Load() (*Config, error) {
	return loadFrom(Path(), os.Getenv)
}

// LoadFile is Load for an explicit config file.
func LoadFile(path string) (*Config, error) {
	return loadFrom(path, os.Getenv)
}

func loadFrom(configPath string, getenv func(string) string) (*Config, error) {
	config, err := readConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.applyEnv(getenv); err != nil {
		return nil, err
	}
	return config, nil
}

// readConfig reads and parses the config file, returning an empty config if file doesn't exist.
func readConfig(configPath string) (*Config, error) {
	config := &Config{}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvEndpoint); v != "" {
		c.Endpoint = v
	}
	if v := getenv(EnvProduct); v != "" {
		c.Product = v
	}
	if v := getenv(EnvOrganization); v != "" {
		c.Organization = v
	}
	if v := getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := getenv(EnvStore); v != "" {
		c.Store = v
	}
	if v := getenv(EnvEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvEnabled, v, err)
		}
		c.Enabled = &enabled
	}
	return nil
}

// Save saves the configuration to the config file
func (c *Config) Save() error {
	return c.saveTo(Path())
}

// SaveTo saves the configuration to path
func (c *Config) SaveTo(path string) error {
	return c.saveTo(path)
}

func (c *Config) saveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Ensure version is always set to current version when saving
	c.Version = CurrentVersion

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return atomic.WriteFile(path, bytes.NewReader(data))
}

// IsEnabled reports whether tracking is allowed at all
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StoreKind returns the configured store, defaulting to file
func (c *Config) StoreKind() string {
	if c.Store == "" {
		return StoreFile
	}
	return c.Store
}

// Validate checks the fields a tracker needs.
func (c *Config) Validate() error {
	var errs []error

	if c.Organization == "" {
		errs = append(errs, errors.New("organization is not set"))
	}
	if c.Product == "" {
		errs = append(errs, errors.New("product is not set"))
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid endpoint %q", c.Endpoint))
		}
	}
	switch c.StoreKind() {
	case StoreFile, StoreSQLite, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q: must be one of %s", c.Store, strings.Join([]string{StoreFile, StoreSQLite, StoreMemory}, ", ")))
	}
	if _, err := c.FlushIntervalDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Thresholds != nil {
		if _, err := parseDuration("thresholds.freeze_age", c.Thresholds.FreezeAge); err != nil {
			errs = append(errs, err)
		}
		if _, err := parseDuration("thresholds.flush_age", c.Thresholds.FlushAge); err != nil {
			errs = append(errs, err)
		}
		if c.Thresholds.FreezeEvents < 0 || c.Thresholds.FlushEvents < 0 {
			errs = append(errs, errors.New("thresholds cannot be negative"))
		}
	}

	return errors.Join(errs...)
}

// FlushIntervalDuration parses FlushInterval. An unset interval is zero, so
// callers check FlushInterval first to tell it apart from "0".
func (c *Config) FlushIntervalDuration() (time.Duration, error) {
	return parseDuration("flush_interval", c.FlushInterval)
}

// ThresholdDurations parses the freeze and flush ages. Unset values are zero.
func (c *Config) ThresholdDurations() (freezeAge, flushAge time.Duration, err error) {
	if c.Thresholds == nil {
		return 0, 0, nil
	}
	if freezeAge, err = parseDuration("thresholds.freeze_age", c.Thresholds.FreezeAge); err != nil {
		return 0, 0, err
	}
	if flushAge, err = parseDuration("thresholds.flush_age", c.Thresholds.FlushAge); err != nil {
		return 0, 0, err
	}
	return freezeAge, flushAge, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: cannot be negative", field, s)
	}
	return d, nil
}
