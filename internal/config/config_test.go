package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// TestLoadDefaults verifies that an empty config file resolves to the
// documented defaults.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Sync.MessageWindow != 4*time.Second {
		t.Errorf("MessageWindow = %s, want 4s", cfg.Sync.MessageWindow)
	}
	if cfg.Sync.PersistDelay != 1*time.Second {
		t.Errorf("PersistDelay = %s, want 1s", cfg.Sync.PersistDelay)
	}
	if cfg.Daemon.Interval != 5*time.Minute {
		t.Errorf("Interval = %s, want 5m", cfg.Daemon.Interval)
	}
	if cfg.Dashboard.Addr != "127.0.0.1:7420" {
		t.Errorf("Addr = %s", cfg.Dashboard.Addr)
	}
	if cfg.Brief.Model == "" || cfg.Brief.MaxTokens != 1024 {
		t.Errorf("Brief defaults = %+v", cfg.Brief)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir default empty")
	}
}

// TestLoadOverrides verifies YAML values land, including duration
// parsing.
func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
data_dir: /tmp/perch-test
fixture: /tmp/fixture.toml
sync:
  message_window: 10s
  persist_delay: 250ms
daemon:
  interval: 90s
  log_max_size_mb: 25
dashboard:
  addr: 127.0.0.1:9999
brief:
  model: claude-haiku-4-5
  max_tokens: 512
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DataDir != "/tmp/perch-test" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if cfg.Sync.MessageWindow != 10*time.Second || cfg.Sync.PersistDelay != 250*time.Millisecond {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Daemon.Interval != 90*time.Second || cfg.Daemon.LogMaxSizeMB != 25 {
		t.Errorf("Daemon = %+v", cfg.Daemon)
	}
	if cfg.Dashboard.Addr != "127.0.0.1:9999" {
		t.Errorf("Addr = %s", cfg.Dashboard.Addr)
	}
	if cfg.Brief.Model != "claude-haiku-4-5" || cfg.Brief.MaxTokens != 512 {
		t.Errorf("Brief = %+v", cfg.Brief)
	}
}

// TestLoadEnvOverride verifies PERCH_* variables beat file values.
func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PERCH_DAEMON_INTERVAL", "42s")
	t.Setenv("PERCH_DATA_DIR", "/tmp/perch-env")

	cfg, err := Load(writeConfig(t, "daemon:\n  interval: 10s\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Daemon.Interval != 42*time.Second {
		t.Errorf("Interval = %s, want 42s from environment", cfg.Daemon.Interval)
	}
	if cfg.DataDir != "/tmp/perch-env" {
		t.Errorf("DataDir = %s, want /tmp/perch-env from environment", cfg.DataDir)
	}
}

// TestLoadRejectsBadValues verifies validation failures surface.
func TestLoadRejectsBadValues(t *testing.T) {
	cases := []string{
		"sync:\n  message_window: -1s\n",
		"daemon:\n  interval: 0s\n",
		"brief:\n  max_tokens: 0\n",
		"dashboard:\n  addr: \"\"\n",
	}
	for _, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("Load accepted invalid config:\n%s", content)
		}
	}
}

// TestLoadMissingExplicitFile verifies that a named config file must
// exist.
func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load succeeded on a missing explicit config file")
	}
}

// TestDerivedPaths verifies the path helpers and their overrides.
func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if cfg.CachePath() != filepath.Join("/data", "cache.db") {
		t.Errorf("CachePath = %s", cfg.CachePath())
	}
	if cfg.WorkspacePath() != filepath.Join("/data", "workspace.yaml") {
		t.Errorf("WorkspacePath = %s", cfg.WorkspacePath())
	}
	if cfg.TokenFilePath() != filepath.Join("/data", "token") {
		t.Errorf("TokenFilePath = %s", cfg.TokenFilePath())
	}

	cfg.TokenFile = "/secrets/tok"
	if cfg.TokenFilePath() != "/secrets/tok" {
		t.Errorf("TokenFilePath override = %s", cfg.TokenFilePath())
	}
	cfg.Daemon.LogFile = "/var/log/perchd.log"
	if cfg.DaemonLogPath() != "/var/log/perchd.log" {
		t.Errorf("DaemonLogPath override = %s", cfg.DaemonLogPath())
	}
}
