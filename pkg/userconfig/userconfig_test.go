package userconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestConfig_Empty(t *testing.T) {
	t.Parallel()

	configFile := filepath.Join(t.TempDir(), "config.yaml")

	config, err := loadFrom(configFile, noEnv)
	require.NoError(t, err)
	assert.Empty(t, config.Product)
	assert.True(t, config.IsEnabled())
	assert.Equal(t, StoreFile, config.StoreKind())
}

func TestConfig_LoadFile(t *testing.T) {
	t.Parallel()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `version: v1
organization: my-company
product: my-app
endpoint: https://collect.example.com
api_key: secret
enabled: false
store: sqlite
flush_interval: 30s
thresholds:
  freeze_events: 5
  freeze_age: 2s
  flush_age: 10m
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	config, err := loadFrom(configFile, noEnv)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "my-company", config.Organization)
	assert.Equal(t, "my-app", config.Product)
	assert.Equal(t, "https://collect.example.com", config.Endpoint)
	assert.Equal(t, "secret", config.APIKey)
	assert.False(t, config.IsEnabled())
	assert.Equal(t, StoreSQLite, config.StoreKind())

	interval, err := config.FlushIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, interval)

	freezeAge, flushAge, err := config.ThresholdDurations()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, freezeAge)
	assert.Equal(t, 10*time.Minute, flushAge)
	assert.Equal(t, 5, config.Thresholds.FreezeEvents)
}

func TestConfig_InvalidYAML(t *testing.T) {
	t.Parallel()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("product: [unclosed"), 0o644))

	_, err := loadFrom(configFile, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Parallel()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("product: from-file\norganization: org\n"), 0o644))

	config, err := loadFrom(configFile, envOf(map[string]string{
		EnvProduct:  "from-env",
		EnvEndpoint: "http://localhost:8080",
		EnvAPIKey:   "k",
		EnvStore:    "memory",
		EnvEnabled:  "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, "from-env", config.Product)
	assert.Equal(t, "org", config.Organization)
	assert.Equal(t, "http://localhost:8080", config.Endpoint)
	assert.Equal(t, "k", config.APIKey)
	assert.Equal(t, StoreMemory, config.StoreKind())
	assert.False(t, config.IsEnabled())
}

func TestConfig_InvalidEnabledEnv(t *testing.T) {
	t.Parallel()

	_, err := loadFrom(filepath.Join(t.TempDir(), "config.yaml"), envOf(map[string]string{EnvEnabled: "maybe"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvEnabled)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{Organization: "org", Product: "app"}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing organization", func(c *Config) { c.Organization = "" }, "organization is not set"},
		{"missing product", func(c *Config) { c.Product = "" }, "product is not set"},
		{"bad scheme", func(c *Config) { c.Endpoint = "ftp://example.com" }, "invalid endpoint"},
		{"no host", func(c *Config) { c.Endpoint = "https://" }, "invalid endpoint"},
		{"unknown store", func(c *Config) { c.Store = "tape" }, `unknown store "tape"`},
		{"bad interval", func(c *Config) { c.FlushInterval = "soon" }, "invalid flush_interval"},
		{"negative interval", func(c *Config) { c.FlushInterval = "-1s" }, "cannot be negative"},
		{"bad freeze age", func(c *Config) { c.Thresholds = &Thresholds{FreezeAge: "x"} }, "thresholds.freeze_age"},
		{"negative events", func(c *Config) { c.Thresholds = &Thresholds{FlushEvents: -1} }, "thresholds cannot be negative"},
		{"disabled interval", func(c *Config) { c.FlushInterval = "0" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_SaveAndReload(t *testing.T) {
	t.Parallel()

	configFile := filepath.Join(t.TempDir(), "nested", "config.yaml")
	enabled := true

	config := &Config{
		Organization: "org",
		Product:      "app",
		Enabled:      &enabled,
		Thresholds:   &Thresholds{FlushEvents: 50},
	}
	require.NoError(t, config.saveTo(configFile))
	assert.Equal(t, CurrentVersion, config.Version)

	reloaded, err := loadFrom(configFile, noEnv)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, reloaded.Version)
	assert.Equal(t, "org", reloaded.Organization)
	assert.Equal(t, "app", reloaded.Product)
	require.NotNil(t, reloaded.Enabled)
	assert.True(t, *reloaded.Enabled)
	require.NotNil(t, reloaded.Thresholds)
	assert.Equal(t, 50, reloaded.Thresholds.FlushEvents)
}

func TestPaths(t *testing.T) {
	configDir := t.TempDir()
	dataDir := t.TempDir()
	t.Setenv("REGARD_CONFIG_DIR", configDir)
	t.Setenv("REGARD_DATA_DIR", dataDir)

	assert.Equal(t, filepath.Join(configDir, "config.yaml"), Path())
	assert.Equal(t, filepath.Join(configDir, "consent.yaml"), ConsentPath())
	assert.Equal(t, filepath.Join(configDir, "user-id"), UserIDPath())
	assert.Equal(t, filepath.Join(dataDir, "frozen"), FrozenDir())
	assert.Equal(t, filepath.Join(dataDir, "regard.db"), DatabasePath())
}

func TestLoadUsesEnvironment(t *testing.T) {
	t.Setenv("REGARD_CONFIG_DIR", t.TempDir())
	t.Setenv(EnvOrganization, "env-org")
	t.Setenv(EnvProduct, "env-app")

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-org", config.Organization)
	assert.Equal(t, "env-app", config.Product)

	require.NoError(t, config.Save())
	assert.FileExists(t, Path())
}
