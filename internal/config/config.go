package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/lazypower/caffeinebuddy/internal/kinetics"
)

// Config holds all caffeinebuddy configuration, read from
// ~/.caffeinebuddy/config.toml when present.
type Config struct {
	Server    ServerConfig        `toml:"server"`
	Database  DatabaseConfig      `toml:"database"`
	Model     kinetics.DecayModel `toml:"model"`
	Reminders RemindersConfig     `toml:"reminders"`
	Log       LogConfig           `toml:"log"`
}

type ServerConfig struct {
	Bind        string   `toml:"bind"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type RemindersConfig struct {
	Enabled    bool   `toml:"enabled"`
	Interval   string `toml:"interval"`    // Go duration, e.g. "1m"
	WebhookURL string `toml:"webhook_url"` // optional; reminders are always logged
}

type LogConfig struct {
	Level       string `toml:"level"` // debug, info, warn, error
	Development bool   `toml:"development"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:        "127.0.0.1",
			Port:        37778,
			CORSOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Model: kinetics.DefaultModel(),
		Reminders: RemindersConfig{
			Enabled:  true,
			Interval: "1m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.caffeinebuddy/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".caffeinebuddy", "config.toml"), nil
}

// Load reads a TOML file over the defaults. A missing file is not an error.
// Environment overrides are applied and the result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies CAFFEINEBUDDY_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CAFFEINEBUDDY_BIND"); v != "" {
		c.Server.Bind = v
	}
	if v := os.Getenv("CAFFEINEBUDDY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CAFFEINEBUDDY_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CAFFEINEBUDDY_WEBHOOK"); v != "" {
		c.Reminders.WebhookURL = v
	}
	if v := os.Getenv("CAFFEINEBUDDY_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if err := c.Model.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}
	if _, err := c.ReminderInterval(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	return errors.Join(errs...)
}

// ReminderInterval parses Reminders.Interval.
func (c *Config) ReminderInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Reminders.Interval)
	if err != nil {
		return 0, fmt.Errorf("reminders.interval %q: %w", c.Reminders.Interval, err)
	}
	if d < time.Second {
		return 0, fmt.Errorf("reminders.interval %s must be at least 1s", d)
	}
	return d, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
