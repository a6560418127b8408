package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models kintsugi.yml.
type Config struct {
	App struct {
		Name string `yaml:"name"`
	} `yaml:"app"`
	Workshop struct {
		TriggerPhrase string `yaml:"trigger_phrase"`
	} `yaml:"workshop"`
	Rewards  map[string]int  `yaml:"rewards"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// RewardFor returns the reputation credit for an assignment type.
func (c *Config) RewardFor(assignmentType string) (int, bool) {
	amount, ok := c.Rewards[assignmentType]
	return amount, ok
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run kg init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("config.app.name is required")
	}
	if c.Workshop.TriggerPhrase == "" {
		return fmt.Errorf("config.workshop.trigger_phrase is required")
	}
	if len(c.Rewards) == 0 {
		return fmt.Errorf("config.rewards is required")
	}
	for kind, amount := range c.Rewards {
		if kind == "" {
			return fmt.Errorf("config.rewards contains empty assignment type")
		}
		if amount < 0 {
			return fmt.Errorf("reward for %s must be non-negative", kind)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "kintsugi.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
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

const defaultTemplate = `app:
  name: kintsugi

workshop:
  trigger_phrase: "I am Jack's complete lack of surprise"

rewards:
  physical: 150
  digital: 100

webhooks: []
`
