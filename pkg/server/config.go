package server

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds everything the server needs to start. Zero values are
// filled from DefaultConfig, so a partial TOML file is fine.
type Config struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// Codec selects the wire encoding every client must speak:
	// "json" or "compact".
	Codec string `toml:"codec"`

	// WebSocketPath, when non-empty, also accepts sessions over
	// websocket on the HTTP listener at this path.
	WebSocketPath string `toml:"websocket_path"`

	// HTTPAddr serves /healthz and /metrics (and websocket upgrades when
	// enabled). Empty disables the HTTP listener.
	HTTPAddr string `toml:"http_addr"`

	Database DatabaseConfig `toml:"database"`

	// IdleTimeoutSeconds disconnects sessions with no inbound frames for
	// this long. 0 disables the sweep.
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`

	// MaxMessageLen caps the body of a relayed message in bytes.
	MaxMessageLen int `toml:"max_message_len"`

	Debug bool `toml:"debug"`
}

type DatabaseConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

func DefaultConfig() Config {
	return Config{
		Host:  "127.0.0.1",
		Port:  26310,
		Codec: "json",
		Database: DatabaseConfig{
			Backend: "sqlite",
			Path:    "boltchat.db",
		},
		MaxMessageLen: 4096,
	}
}

// LoadConfig reads a TOML file over the defaults. A missing path returns
// the defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Codec != "json" && c.Codec != "compact" {
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	switch c.Database.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database backend %q", c.Database.Backend)
	}
	if c.MaxMessageLen <= 0 {
		return fmt.Errorf("max_message_len must be positive")
	}
	return nil
}

// Addr is the TCP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IdleTimeout returns the idle sweep duration, 0 when disabled.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}
