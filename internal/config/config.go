package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"momentum/internal/domain"
)

const FileName = "momentum.yml"

// Config models momentum.yml.
type Config struct {
	Timezone string `yaml:"timezone"`
	History  struct {
		MaxEntries int `yaml:"max_entries"`
	} `yaml:"history"`
	Recurrence struct {
		DefaultLimit int `yaml:"default_limit"`
	} `yaml:"recurrence"`
	List struct {
		DefaultLimit int `yaml:"default_limit"`
	} `yaml:"list"`
	Bulk struct {
		MaxItems int `yaml:"max_items"`
	} `yaml:"bulk"`
	Storage struct {
		Backend string `yaml:"backend"`
		// Path overrides the workspace database location.
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Assistant struct {
		Model       string  `yaml:"model"`
		Temperature float32 `yaml:"temperature"`
		// Offline replaces the model with canned replies.
		Offline bool `yaml:"offline"`
	} `yaml:"assistant"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig posts store changes to URL. Events are "<kind>.<op>"
// names such as task.created; empty means every change.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Load reads and validates config from a workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with momentum init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config.timezone %q: %w", c.Timezone, err)
	}
	if c.History.MaxEntries < 2 {
		return fmt.Errorf("config.history.max_entries must be at least 2")
	}
	if c.Recurrence.DefaultLimit <= 0 {
		return fmt.Errorf("config.recurrence.default_limit must be positive")
	}
	if c.List.DefaultLimit <= 0 {
		return fmt.Errorf("config.list.default_limit must be positive")
	}
	if c.Bulk.MaxItems <= 0 {
		return fmt.Errorf("config.bulk.max_items must be positive")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("config.storage.backend must be memory or sqlite, got %q", c.Storage.Backend)
	}
	if t := c.Assistant.Temperature; t < 0 || t > 2 {
		return fmt.Errorf("config.assistant.temperature must be between 0 and 2")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not a log level", c.Log.Level)
	}
	for i, hook := range c.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			kind, op, ok := strings.Cut(evt, ".")
			if _, known := domain.ParseKind(kind); !ok || !known {
				return fmt.Errorf("config.webhooks[%d] has unknown event %q", i, evt)
			}
			switch domain.ChangeOp(op) {
			case domain.ChangeCreated, domain.ChangeUpdated, domain.ChangeDeleted:
			default:
				return fmt.Errorf("config.webhooks[%d] has unknown event %q", i, evt)
			}
		}
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Limits maps the config onto per-caller limits.
func (c *Config) Limits() domain.Limits {
	return domain.Limits{
		ListDefault:     c.List.DefaultLimit,
		BulkMax:         c.Bulk.MaxItems,
		RecurrenceLimit: c.Recurrence.DefaultLimit,
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `timezone: UTC

history:
  max_entries: 50

recurrence:
  default_limit: 10

list:
  default_limit: 20

bulk:
  max_items: 50

storage:
  backend: memory

assistant:
  model: gemini-2.5-flash
  temperature: 0.4
  offline: false

log:
  level: info
  development: false
`
