package config

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var current atomic.Pointer[Config]

var (
	onReloadMu        sync.Mutex
	onReloadCallbacks []func(*Config)
)

// Get returns the current in-memory config (hot-reloaded when the file changes).
func Get() *Config { return current.Load() }

// Set sets the current in-memory config. Used at startup and by the file watcher.
func Set(c *Config) {
	if c != nil {
		current.Store(c)
	}
}

// RegisterOnReload registers a callback that runs after config is hot-reloaded.
func RegisterOnReload(fn func(*Config)) {
	onReloadMu.Lock()
	defer onReloadMu.Unlock()
	onReloadCallbacks = append(onReloadCallbacks, fn)
}

func notifyReload(cfg *Config) {
	onReloadMu.Lock()
	cb := make([]func(*Config), len(onReloadCallbacks))
	copy(cb, onReloadCallbacks)
	onReloadMu.Unlock()
	for _, fn := range cb {
		fn(cfg)
	}
}

//go:embed config.example.yaml
var exampleConfigBytes []byte

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadDotEnv loads .env files into the process environment. Variables that are
// already set win. A missing file is not an error.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				slog.Warn("failed to load env file", "path", p, "error", err)
			}
			continue
		}
		slog.Debug("env file loaded", "path", p)
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromExample unmarshals the embedded config.example.yaml, so a deployment
// driven purely by environment variables needs no config file.
func LoadFromExample() (*Config, error) {
	cfg, err := parse(exampleConfigBytes)
	if err != nil {
		return nil, fmt.Errorf("parse example config: %w", err)
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	applyLoadDefaults(&cfg)
	return &cfg, nil
}

func applyLoadDefaults(cfg *Config) {
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = 3000
	}
	if cfg.WhatsApp.GraphURL == "" {
		cfg.WhatsApp.GraphURL = "https://graph.facebook.com"
	}
	if cfg.WhatsApp.Version == "" {
		cfg.WhatsApp.Version = "v17.0"
	}
	if cfg.WhatsApp.DedupTTL <= 0 {
		cfg.WhatsApp.DedupTTL = 10 * time.Minute
	}
	if cfg.Voiceflow.BaseURL == "" {
		cfg.Voiceflow.BaseURL = "https://general-runtime.voiceflow.com"
	}
	if cfg.Voiceflow.VersionID == "" {
		cfg.Voiceflow.VersionID = "development"
	}
	if cfg.Voiceflow.TranscriptURL == "" {
		cfg.Voiceflow.TranscriptURL = "https://api.voiceflow.com/v2/transcripts"
	}
	if cfg.Dispatch.MediaPacingPerKB <= 0 {
		cfg.Dispatch.MediaPacingPerKB = 10 * time.Millisecond
	}
	if cfg.Dispatch.MediaProbeFallback <= 0 {
		cfg.Dispatch.MediaProbeFallback = 5 * time.Second
	}
	if cfg.Dispatch.RateBurst <= 0 {
		cfg.Dispatch.RateBurst = 1
	}
	if cfg.Sessions.IdleTTL <= 0 {
		cfg.Sessions.IdleTTL = 24 * time.Hour
	}
	if cfg.Sessions.SweepSchedule == "" {
		cfg.Sessions.SweepSchedule = "@every 10m"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "auto"
	}
}

// expandEnvVars replaces ${VAR} with its value. Unset variables expand to the
// empty string so optional settings fall back to their defaults.
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// ResolveHome returns the FLOWBRIDGE_HOME directory.
// Priority: FLOWBRIDGE_HOME env > ~/.flowbridge/
func ResolveHome() string {
	if home := os.Getenv("FLOWBRIDGE_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".flowbridge"
	}
	return filepath.Join(userHome, ".flowbridge")
}

// ResolveConfigPath finds the config file.
// Priority: --config flag > FLOWBRIDGE_CONFIG env > FLOWBRIDGE_HOME/config.yaml
func ResolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("FLOWBRIDGE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ResolveHome(), "config.yaml")
}

// GenerateToken returns a random hex token (32 bytes = 64 chars) for admin auth.
func GenerateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "fallback-token-please-set-gateway-auth-token-in-config"
	}
	return hex.EncodeToString(b)
}

// CreateFromExample writes the embedded config.example.yaml to targetPath with the
// admin token placeholder replaced by a generated token.
func CreateFromExample(targetPath string) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	content := strings.ReplaceAll(string(exampleConfigBytes), "${FLOWBRIDGE_TOKEN}", GenerateToken())
	if err := os.WriteFile(targetPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Write marshals cfg to YAML and writes it to path. Creates parent directory if needed.
func Write(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
