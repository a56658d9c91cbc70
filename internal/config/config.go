// Package config loads perch's configuration.
//
// Configuration comes from one YAML file plus PERCH_* environment
// overrides, resolved through viper. Everything has a default; a
// missing config file is a fully working setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved configuration tree.
type Config struct {
	// DataDir holds the cache database, workspace file and logs.
	DataDir string `mapstructure:"data_dir"`
	// Token is an inline forge credential. Usually empty; the
	// environment or token file is the normal source.
	Token string `mapstructure:"token"`
	// TokenFile overrides the default token file location.
	TokenFile string `mapstructure:"token_file"`
	// Fixture points at a TOML dataset for offline runs. Empty means
	// the built-in fixture.
	Fixture string `mapstructure:"fixture"`

	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Brief     BriefConfig     `mapstructure:"brief"`
}

// SyncConfig tunes the sync coordinator.
type SyncConfig struct {
	// MessageWindow is how long sync status messages linger.
	MessageWindow time.Duration `mapstructure:"message_window"`
	// PersistDelay is the debounce window for durable snapshot
	// writes.
	PersistDelay time.Duration `mapstructure:"persist_delay"`
}

// DaemonConfig tunes the background sync daemon.
type DaemonConfig struct {
	// Interval is the time between scheduled whole-workspace syncs.
	Interval time.Duration `mapstructure:"interval"`
	// LogFile is the daemon's rotating log. Empty means
	// <data_dir>/logs/perchd.log.
	LogFile string `mapstructure:"log_file"`
	// LogMaxSizeMB rotates the log past this size.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb"`
	// LogMaxBackups caps retained rotated logs.
	LogMaxBackups int `mapstructure:"log_max_backups"`
}

// DashboardConfig tunes the local status dashboard.
type DashboardConfig struct {
	// Addr is the listen address.
	Addr string `mapstructure:"addr"`
}

// BriefConfig tunes review brief generation.
type BriefConfig struct {
	// Model is the Anthropic model ID.
	Model string `mapstructure:"model"`
	// MaxTokens bounds the generated brief.
	MaxTokens int `mapstructure:"max_tokens"`
}

// DefaultDataDir returns ~/.perch, falling back to .perch in the
// working directory when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".perch"
	}
	return filepath.Join(home, ".perch")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("token", "")
	v.SetDefault("token_file", "")
	v.SetDefault("fixture", "")
	v.SetDefault("sync.message_window", 4*time.Second)
	v.SetDefault("sync.persist_delay", 1*time.Second)
	v.SetDefault("daemon.interval", 5*time.Minute)
	v.SetDefault("daemon.log_file", "")
	v.SetDefault("daemon.log_max_size_mb", 10)
	v.SetDefault("daemon.log_max_backups", 3)
	v.SetDefault("dashboard.addr", "127.0.0.1:7420")
	v.SetDefault("brief.model", "claude-sonnet-4-5")
	v.SetDefault("brief.max_tokens", 1024)
}

// Load reads configuration. With an explicit path the file must
// exist; with an empty path the default locations are searched and a
// missing file just means defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PERCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDataDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Sync.MessageWindow <= 0 {
		return fmt.Errorf("sync.message_window must be positive, got %s", c.Sync.MessageWindow)
	}
	if c.Sync.PersistDelay <= 0 {
		return fmt.Errorf("sync.persist_delay must be positive, got %s", c.Sync.PersistDelay)
	}
	if c.Daemon.Interval <= 0 {
		return fmt.Errorf("daemon.interval must be positive, got %s", c.Daemon.Interval)
	}
	if c.Dashboard.Addr == "" {
		return fmt.Errorf("dashboard.addr must not be empty")
	}
	if c.Brief.MaxTokens <= 0 {
		return fmt.Errorf("brief.max_tokens must be positive, got %d", c.Brief.MaxTokens)
	}
	return nil
}

// CachePath returns the sqlite cache location.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// WorkspacePath returns the workspace state file location.
func (c *Config) WorkspacePath() string {
	return filepath.Join(c.DataDir, "workspace.yaml")
}

// TokenFilePath returns the token file location, honoring the
// override.
func (c *Config) TokenFilePath() string {
	if c.TokenFile != "" {
		return c.TokenFile
	}
	return filepath.Join(c.DataDir, "token")
}

// DaemonLogPath returns the daemon log location, honoring the
// override.
func (c *Config) DaemonLogPath() string {
	if c.Daemon.LogFile != "" {
		return c.Daemon.LogFile
	}
	return filepath.Join(c.DataDir, "logs", "perchd.log")
}
