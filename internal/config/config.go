package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration loaded from perch.yaml.
type Config struct {
	// Dir is the perch home directory. Everything the daemon persists
	// (database, history files, uploads) lives under it.
	Dir string `yaml:"dir,omitempty"`

	LLM        LLMConfig        `yaml:"llm"`
	Permission PermissionConfig `yaml:"permission"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"` // "anthropic", "openai", or "dummy"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url,omitempty"`

	// RequestsPerMinute caps upstream API calls. Zero means no limit.
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"`
}

type PermissionConfig struct {
	// BypassAll skips every permission check. Dangerous; off by default.
	BypassAll bool `yaml:"bypass_all,omitempty"`

	// AskTimeout is how long an interactive permission request waits for
	// a decision before defaulting to deny (e.g. "5m").
	AskTimeout string `yaml:"ask_timeout,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

type ServerConfig struct {
	// Secret signs connection tokens. Auto-generated on first run when empty.
	Secret string `yaml:"secret,omitempty"`
}

// Load reads configuration from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Environment overrides
	if key := os.Getenv("PERCH_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if dir := os.Getenv("PERCH_DIR"); dir != "" {
		cfg.Dir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns a config with sane defaults and Dir set to ~/.perch.
func Default() *Config {
	dir := ""
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".perch")
	}
	return &Config{
		Dir: dir,
		LLM: LLMConfig{
			Provider: "dummy",
			Model:    "claude-sonnet-4-20250514",
		},
		Permission: PermissionConfig{
			AskTimeout: "5m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "dummy":
	default:
		return fmt.Errorf("llm.provider must be 'anthropic', 'openai', or 'dummy'")
	}
	if c.LLM.Provider != "dummy" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider)
	}
	if c.Permission.AskTimeout != "" {
		if _, err := time.ParseDuration(c.Permission.AskTimeout); err != nil {
			return fmt.Errorf("permission.ask_timeout: %w", err)
		}
	}
	return nil
}

// AskTimeout returns the parsed permission ask timeout, defaulting to 5m.
func (c *Config) AskTimeout() time.Duration {
	if c.Permission.AskTimeout != "" {
		if d, err := time.ParseDuration(c.Permission.AskTimeout); err == nil {
			return d
		}
	}
	return 5 * time.Minute
}

func (c *Config) DBPath() string     { return filepath.Join(c.Dir, "perch.db") }
func (c *Config) HistoryDir() string { return filepath.Join(c.Dir, "history") }
func (c *Config) FilesDir() string   { return filepath.Join(c.Dir, "files") }
func (c *Config) SocketPath() string { return filepath.Join(c.Dir, "perchd.sock") }
func (c *Config) ConfigPath() string { return filepath.Join(c.Dir, "perch.yaml") }

// EnsureDirs creates the perch home directory tree.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Dir, c.HistoryDir(), c.FilesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Save writes the config back to its canonical path (used to persist an
// auto-generated server secret).
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(c.ConfigPath(), data, 0600)
}
