package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pensa/internal/domain"
)

const (
	fileName = "config.yml"

	DefaultAddr        = "0.0.0.0:7533"
	DefaultActor       = "unknown"
	DefaultBusyTimeout = 5000
	DefaultHookTimeout = 5
)

// Config models .pensa/config.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Storage struct {
		BusyTimeoutMS int `yaml:"busy_timeout_ms"`
	} `yaml:"storage"`
	Actor struct {
		Default string `yaml:"default"`
	} `yaml:"actor"`
	Hooks []HookConfig `yaml:"hooks"`
}

// HookConfig describes one event hook: every audit event whose kind is in
// Events (all kinds when empty) is POSTed to URL.
type HookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsEnabled reports whether the hook should receive events; hooks are on
// unless explicitly disabled.
func (h HookConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

func (h HookConfig) Timeout() time.Duration {
	if h.TimeoutSeconds <= 0 {
		return DefaultHookTimeout * time.Second
	}
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// Wants reports whether the hook subscribes to the event kind.
func (h HookConfig) Wants(kind domain.EventType) bool {
	if len(h.Events) == 0 {
		return true
	}
	for _, k := range h.Events {
		if k == "*" || k == string(kind) {
			return true
		}
	}
	return false
}

// BusyTimeout returns the storage busy timeout as a duration.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutMS) * time.Millisecond
}

// Default returns a Config with every field at its default.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Storage.BusyTimeoutMS == 0 {
		c.Storage.BusyTimeoutMS = DefaultBusyTimeout
	}
	if c.Actor.Default == "" {
		c.Actor.Default = DefaultActor
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Storage.BusyTimeoutMS < 0 {
		return fmt.Errorf("config.storage.busy_timeout_ms must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if strings.TrimSpace(c.Actor.Default) == "" {
		return fmt.Errorf("config.actor.default must not be blank")
	}
	for i, h := range c.Hooks {
		u, err := url.Parse(h.URL)
		if err != nil || h.URL == "" || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.hooks[%d].url must be an http(s) URL", i)
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("config.hooks[%d].timeout_seconds must not be negative", i)
		}
		for _, kind := range h.Events {
			if kind == "*" {
				continue
			}
			if !domain.EventType(kind).Valid() {
				return fmt.Errorf("config.hooks[%d] subscribes to unknown event %s", i, kind)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".pensa", fileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
