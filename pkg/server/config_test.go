package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.validate())
	assert.Equal(t, "127.0.0.1:26310", cfg.Addr())
	assert.Equal(t, "json", cfg.Codec)
	assert.Zero(t, cfg.IdleTimeout())
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
host = "0.0.0.0"
port = 9000
codec = "compact"
idle_timeout_seconds = 60

[database]
backend = "memory"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, "compact", cfg.Codec)
	assert.Equal(t, "memory", cfg.Database.Backend)
	assert.EqualValues(t, 60, cfg.IdleTimeout().Seconds())
	// untouched keys keep their defaults
	assert.Equal(t, 4096, cfg.MaxMessageLen)
}

func TestLoadConfigUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("banana = true\n"), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "unknown config keys")
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad codec", func(c *Config) { c.Codec = "xml" }},
		{"bad backend", func(c *Config) { c.Database.Backend = "postgres" }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"bad message limit", func(c *Config) { c.MaxMessageLen = 0 }},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}
