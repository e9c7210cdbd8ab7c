package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "onlinestore", cfg.ServiceName)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Order.RetryMax)
	assert.Equal(t, 5*time.Minute, cfg.CacheDefaultTTL())
	assert.Equal(t, time.Minute, cfg.AlertTickInterval())
	assert.Equal(t, 24*time.Hour, cfg.MetricRetention())
}

func TestLoadFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
service_name = "store-test"

[order]
retry_max = 5

[cache]
default_ttl_seconds = 60

[alert]
tick_interval_seconds = 15
rules_file = "rules.yaml"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "store-test", cfg.ServiceName)
	assert.Equal(t, 5, cfg.Order.RetryMax)
	assert.Equal(t, time.Minute, cfg.CacheDefaultTTL())
	assert.Equal(t, 15*time.Second, cfg.AlertTickInterval())
	assert.Equal(t, "rules.yaml", cfg.Alert.RulesFile)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APP_ORDER_RETRY_MAX", "7")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Order.RetryMax)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing service name", func(c *Config) { c.ServiceName = "" }},
		{"bad http port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"mysql without dsn", func(c *Config) { c.Database.Driver = "mysql"; c.Database.DSN = "" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"zero retries", func(c *Config) { c.Order.RetryMax = 0 }},
		{"zero tick", func(c *Config) { c.Alert.TickIntervalSeconds = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
