package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"nickel_agent/internal/domain"
	"nickel_agent/internal/skills/finance"
)

type Config struct {
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Data         DataConfig         `toml:"data"`
	Finance      finance.Settings   `toml:"finance"`
	Drafts       DraftsConfig       `toml:"drafts"`
	Logging      LoggingConfig      `toml:"logging"`
	Raw          map[string]any     `toml:"-"`
	Path         string             `toml:"-"`
}

type OrchestratorConfig struct {
	Addr     string `toml:"addr"`
	DBPath   string `toml:"db_path"`
	MaxSteps int    `toml:"max_steps"`
}

type DataConfig struct {
	Root        string            `toml:"root"`
	Permissions []domain.FileRule `toml:"permissions"`
}

type DraftsConfig struct {
	Endpoint       string `toml:"endpoint"`
	Model          string `toml:"model"`
	APIKeyEnv      string `toml:"api_key_env"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Retries        int    `toml:"retries"`
}

// Enabled reports whether model drafting is configured; otherwise drafts
// come from templates.
func (d DraftsConfig) Enabled() bool {
	return strings.TrimSpace(d.Endpoint) != "" && strings.TrimSpace(d.Model) != ""
}

func (d DraftsConfig) APIKey() string {
	if d.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(d.APIKeyEnv)
}

type LoggingConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Load reads the TOML config. A missing file at the default location yields
// an empty config; a missing explicit path is an error.
func Load(path string) (Config, error) {
	explicit := path != ""
	resolved := path
	if !explicit {
		resolved = defaultConfigPath()
	}
	resolved, err := ExpandHome(resolved)
	if err != nil {
		return Config{}, err
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Config{Raw: map[string]any{}}, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	if drafts, ok := raw["drafts"].(map[string]any); ok {
		delete(drafts, "api_key")
	}
	cfg.Raw = raw
	cfg.Path = resolved
	return cfg, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(p, "~")
	trimmed = strings.TrimPrefix(trimmed, "\\")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(home, trimmed), nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nickel/config.toml"
	}
	return filepath.Join(home, ".nickel", "config.toml")
}
