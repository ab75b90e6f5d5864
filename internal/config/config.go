// Package config loads studysync settings with viper. Environment variables
// (STUDYSYNC_ prefix) override the TOML file, which overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "~/.config/studysync/config.toml"

// Backends accepted by server.backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// Config is the resolved configuration.
type Config struct {
	Path      string
	DataDir   string
	Log       LogConfig
	Sync      SyncConfig
	Server    ServerConfig
	Assistant AssistantConfig
	Inbox     InboxConfig
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type SyncConfig struct {
	Enabled        bool
	ServerURL      string
	Debounce       time.Duration
	IgnoreWindow   time.Duration
	RequestTimeout time.Duration
}

type ServerConfig struct {
	Addr          string
	Backend       string
	DataDir       string
	RedisAddr     string
	MongoURI      string
	MongoDatabase string
	JWTSecret     string
	TokenTTL      time.Duration
}

type AssistantConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

type InboxConfig struct {
	Dir string
}

// defaults maps every key to its default value.
var defaults = map[string]any{
	"data_dir":              "~/.local/share/studysync",
	"log.level":             "warn",
	"log.file":              "",
	"log.max_size_mb":       10,
	"log.max_backups":       3,
	"log.max_age_days":      28,
	"sync.enabled":          true,
	"sync.server_url":       "http://localhost:8787",
	"sync.debounce":         "5s",
	"sync.ignore_window":    "2s",
	"sync.request_timeout":  "15s",
	"server.addr":           ":8787",
	"server.backend":        BackendMemory,
	"server.data_dir":       "~/.local/share/studysync/server",
	"server.redis_addr":     "localhost:6379",
	"server.mongo_uri":      "mongodb://localhost:27017",
	"server.mongo_database": "studysync",
	"server.jwt_secret":     "",
	"server.token_ttl":      "720h",
	"assistant.api_key":     "",
	"assistant.model":       "claude-sonnet-4-5",
	"assistant.max_tokens":  2048,
	"inbox.dir":             "~/.local/share/studysync/inbox",
}

// Load reads the file at path (DefaultPath when empty). A missing file is
// not an error.
func Load(path string) (Config, error) {
	resolved, err := ExpandPath(orDefault(path))
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("STUDYSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("assistant.api_key", "STUDYSYNC_ASSISTANT_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return Config{}, err
	}

	v.SetConfigFile(resolved)
	v.SetConfigType("toml")
	if _, err := os.Stat(resolved); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", resolved, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to open config %s: %w", resolved, err)
	}

	cfg := Config{
		Path:    resolved,
		DataDir: v.GetString("data_dir"),
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		Sync: SyncConfig{
			Enabled:        v.GetBool("sync.enabled"),
			ServerURL:      strings.TrimSpace(v.GetString("sync.server_url")),
			Debounce:       v.GetDuration("sync.debounce"),
			IgnoreWindow:   v.GetDuration("sync.ignore_window"),
			RequestTimeout: v.GetDuration("sync.request_timeout"),
		},
		Server: ServerConfig{
			Addr:          v.GetString("server.addr"),
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString("server.backend"))),
			DataDir:       v.GetString("server.data_dir"),
			RedisAddr:     v.GetString("server.redis_addr"),
			MongoURI:      v.GetString("server.mongo_uri"),
			MongoDatabase: v.GetString("server.mongo_database"),
			JWTSecret:     v.GetString("server.jwt_secret"),
			TokenTTL:      v.GetDuration("server.token_ttl"),
		},
		Assistant: AssistantConfig{
			APIKey:    v.GetString("assistant.api_key"),
			Model:     v.GetString("assistant.model"),
			MaxTokens: v.GetInt64("assistant.max_tokens"),
		},
		Inbox: InboxConfig{Dir: v.GetString("inbox.dir")},
	}

	for _, p := range []*string{&cfg.DataDir, &cfg.Log.File, &cfg.Server.DataDir, &cfg.Inbox.Dir} {
		if strings.TrimSpace(*p) == "" {
			continue
		}
		if *p, err = ExpandPath(*p); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Server.Backend {
	case BackendMemory, BackendRedis, BackendMongo:
	default:
		return fmt.Errorf("server.backend must be memory, redis or mongo (got %q)", c.Server.Backend)
	}
	if c.Sync.Debounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive (got %s)", c.Sync.Debounce)
	}
	if c.Sync.IgnoreWindow < 0 {
		return fmt.Errorf("sync.ignore_window must not be negative (got %s)", c.Sync.IgnoreWindow)
	}
	if c.Server.TokenTTL <= 0 {
		return fmt.Errorf("server.token_ttl must be positive (got %s)", c.Server.TokenTTL)
	}
	return nil
}

// DatabasePath is the local SQLite file.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "studysync.db")
}

// ServerDatabasePath is the SQLite file holding server accounts.
func (c Config) ServerDatabasePath() string {
	return filepath.Join(c.Server.DataDir, "accounts.db")
}

// fileLayout is what `config init` writes.
type fileLayout struct {
	DataDir string `toml:"data_dir"`

	Log struct {
		Level      string `toml:"level"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
	} `toml:"log"`
	Sync struct {
		Enabled        bool   `toml:"enabled"`
		ServerURL      string `toml:"server_url"`
		Debounce       string `toml:"debounce"`
		IgnoreWindow   string `toml:"ignore_window"`
		RequestTimeout string `toml:"request_timeout"`
	} `toml:"sync"`
	Server struct {
		Addr          string `toml:"addr"`
		Backend       string `toml:"backend"`
		DataDir       string `toml:"data_dir"`
		RedisAddr     string `toml:"redis_addr"`
		MongoURI      string `toml:"mongo_uri"`
		MongoDatabase string `toml:"mongo_database"`
		JWTSecret     string `toml:"jwt_secret"`
		TokenTTL      string `toml:"token_ttl"`
	} `toml:"server"`
	Assistant struct {
		Model     string `toml:"model"`
		MaxTokens int    `toml:"max_tokens"`
	} `toml:"assistant"`
	Inbox struct {
		Dir string `toml:"dir"`
	} `toml:"inbox"`
}

const fileHeader = `# studysync configuration.
#
# Every key can be overridden with an environment variable: STUDYSYNC_ plus the
# key in upper case with dots replaced by underscores, e.g. STUDYSYNC_SYNC_ENABLED.
# The assistant API key is read from STUDYSYNC_ASSISTANT_API_KEY or
# ANTHROPIC_API_KEY and is never written here.
# server.backend is one of memory, redis or mongo.

`

// WriteDefault writes a default config file to path (DefaultPath when
// empty), creating parent directories. An existing file is kept unless
// force is set.
func WriteDefault(path string, force bool) (string, error) {
	resolved, err := ExpandPath(orDefault(path))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(resolved); err == nil && !force {
		return resolved, fmt.Errorf("config %s already exists", resolved)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	var f fileLayout
	f.DataDir = defaults["data_dir"].(string)
	f.Log.Level = defaults["log.level"].(string)
	f.Log.MaxSizeMB = defaults["log.max_size_mb"].(int)
	f.Log.MaxBackups = defaults["log.max_backups"].(int)
	f.Log.MaxAgeDays = defaults["log.max_age_days"].(int)
	f.Sync.Enabled = defaults["sync.enabled"].(bool)
	f.Sync.ServerURL = defaults["sync.server_url"].(string)
	f.Sync.Debounce = defaults["sync.debounce"].(string)
	f.Sync.IgnoreWindow = defaults["sync.ignore_window"].(string)
	f.Sync.RequestTimeout = defaults["sync.request_timeout"].(string)
	f.Server.Addr = defaults["server.addr"].(string)
	f.Server.Backend = defaults["server.backend"].(string)
	f.Server.DataDir = defaults["server.data_dir"].(string)
	f.Server.RedisAddr = defaults["server.redis_addr"].(string)
	f.Server.MongoURI = defaults["server.mongo_uri"].(string)
	f.Server.MongoDatabase = defaults["server.mongo_database"].(string)
	f.Server.TokenTTL = defaults["server.token_ttl"].(string)
	f.Assistant.Model = defaults["assistant.model"].(string)
	f.Assistant.MaxTokens = defaults["assistant.max_tokens"].(int)
	f.Inbox.Dir = defaults["inbox.dir"].(string)

	out, err := os.OpenFile(resolved, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create config: %w", err)
	}
	defer out.Close()

	if _, err := out.WriteString(fileHeader); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	if err := toml.NewEncoder(out).Encode(f); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return resolved, nil
}

func orDefault(path string) string {
	if strings.TrimSpace(path) == "" {
		return DefaultPath
	}
	return path
}

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
