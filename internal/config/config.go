package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for orbit-agent.
//
// Secrets (provider API keys, calendar tokens) never live here; they are
// managed via a separate local secrets file.
type Config struct {
	// DBPath is the SQLite database holding checkpoints, profiles, and users.
	// If empty, a default next to the config file is used.
	DBPath string `json:"db_path,omitempty"`

	// AI is the model provider registry.
	AI *AIConfig `json:"ai"`

	// Calendar configures the Google Calendar integration. Nil disables the
	// calendar tools.
	Calendar *CalendarConfig `json:"calendar,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.AI == nil {
		return errors.New("missing ai config")
	}
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("invalid ai config: %w", err)
	}
	if c.Calendar != nil {
		if err := c.Calendar.Validate(); err != nil {
			return fmt.Errorf("invalid calendar config: %w", err)
		}
	}
	switch strings.TrimSpace(strings.ToLower(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch strings.TrimSpace(strings.ToLower(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// EffectiveDBPath resolves the database path, defaulting to orbit.db in the
// config file's directory.
func (c *Config) EffectiveDBPath(configPath string) string {
	if c != nil && strings.TrimSpace(c.DBPath) != "" {
		return strings.TrimSpace(c.DBPath)
	}
	return filepath.Join(filepath.Dir(configPath), "orbit.db")
}

// DefaultConfigPath returns the default config path:
//
//	~/.orbit-agent/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "orbit-agent.config.json"
	}
	return filepath.Join(home, ".orbit-agent", "config.json")
}

// DefaultSecretsPath returns the secrets file path next to the config file.
func DefaultSecretsPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "secrets.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
