package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(filepath.Join(home, "missing.toml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DataDir != filepath.Join(home, ".local/share/studysync") {
		t.Errorf("DataDir = %q, want under %q", cfg.DataDir, home)
	}
	if cfg.Sync.Debounce != 5*time.Second || cfg.Sync.IgnoreWindow != 2*time.Second {
		t.Errorf("sync timing = %s/%s, want 5s/2s", cfg.Sync.Debounce, cfg.Sync.IgnoreWindow)
	}
	if cfg.Server.Backend != BackendMemory || cfg.Server.Addr != ":8787" {
		t.Errorf("server = %+v, want memory backend on :8787", cfg.Server)
	}
	if cfg.Server.TokenTTL != 720*time.Hour {
		t.Errorf("TokenTTL = %s, want 720h", cfg.Server.TokenTTL)
	}
	if !cfg.Sync.Enabled {
		t.Error("sync disabled by default")
	}
	if cfg.DatabasePath() != filepath.Join(cfg.DataDir, "studysync.db") {
		t.Errorf("DatabasePath() = %q", cfg.DatabasePath())
	}
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
data_dir = "~/plans"

[sync]
debounce = "750ms"
server_url = "https://sync.example.com"

[server]
backend = "Redis"
`), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	t.Setenv("STUDYSYNC_SYNC_ENABLED", "false")
	t.Setenv("STUDYSYNC_SERVER_REDIS_ADDR", "cache:6380")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DataDir != filepath.Join(home, "plans") {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, filepath.Join(home, "plans"))
	}
	if cfg.Sync.Debounce != 750*time.Millisecond {
		t.Errorf("Debounce = %s, want 750ms", cfg.Sync.Debounce)
	}
	if cfg.Sync.ServerURL != "https://sync.example.com" {
		t.Errorf("ServerURL = %q", cfg.Sync.ServerURL)
	}
	if cfg.Sync.Enabled {
		t.Error("environment did not disable sync")
	}
	if cfg.Server.Backend != BackendRedis || cfg.Server.RedisAddr != "cache:6380" {
		t.Errorf("server = %s at %s, want redis at cache:6380", cfg.Server.Backend, cfg.Server.RedisAddr)
	}
	if cfg.Assistant.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want fallback from ANTHROPIC_API_KEY", cfg.Assistant.APIKey)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", "data_dir = "},
		{"unknown backend", "[server]\nbackend = \"postgres\"\n"},
		{"zero debounce", "[sync]\ndebounce = \"0s\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("WriteFile() failed: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() succeeded")
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "nested", "dir", "config.toml")

	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	raw, err := os.ReadFile(written)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.HasPrefix(string(raw), "# studysync configuration.") {
		t.Error("written file has no header comment")
	}
	if strings.Contains(string(raw), "api_key") {
		t.Error("written file contains an api key field")
	}

	fromFile, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written file failed: %v", err)
	}
	fromDefaults, err := Load(filepath.Join(home, "missing.toml"))
	if err != nil {
		t.Fatalf("Load() of defaults failed: %v", err)
	}
	fromFile.Path, fromDefaults.Path = "", ""
	if fromFile != fromDefaults {
		t.Errorf("written config differs from defaults:\n%+v\n%+v", fromFile, fromDefaults)
	}

	if _, err := WriteDefault(path, false); err == nil {
		t.Error("WriteDefault() overwrote an existing file")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Errorf("WriteDefault(force) failed: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	got, err := ExpandPath("~/x/y")
	if err != nil || got != filepath.Join(home, "x/y") {
		t.Errorf("ExpandPath() = %q, %v", got, err)
	}
	if _, err := ExpandPath("  "); err == nil {
		t.Error("ExpandPath() accepted an empty path")
	}
}
