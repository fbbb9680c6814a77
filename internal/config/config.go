package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models unstuck.yml.
type Config struct {
	Relays []string `yaml:"relays"`
	Wallet struct {
		ConnectURI   string        `yaml:"connect_uri"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"wallet"`
	Fetch struct {
		Limit         int           `yaml:"limit"`
		RetryAttempts int           `yaml:"retry_attempts"`
		RetryBackoff  time.Duration `yaml:"retry_backoff"`
	} `yaml:"fetch"`
}

// DefaultRelays are the marketplace's production relay endpoints.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://relay.nostr.band",
	"wss://relay.primal.net",
	"wss://relay.dvmdash.live",
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "unstuck.yml")
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	cfg.Relays = append([]string(nil), DefaultRelays...)
	cfg.Wallet.PollInterval = 2 * time.Second
	cfg.Fetch.Limit = 50
	cfg.Fetch.RetryAttempts = 3
	cfg.Fetch.RetryBackoff = 500 * time.Millisecond
	return &cfg
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted fields
// take their defaults.
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Relays) == 0 {
		return fmt.Errorf("config.relays must list at least one relay")
	}
	for _, r := range c.Relays {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return fmt.Errorf("relay %s must be a ws:// or wss:// URL", r)
		}
	}
	if c.Wallet.ConnectURI != "" && !strings.HasPrefix(c.Wallet.ConnectURI, "nostr+walletconnect://") {
		return fmt.Errorf("wallet.connect_uri must be a nostr+walletconnect:// URI")
	}
	if c.Wallet.PollInterval <= 0 {
		return fmt.Errorf("wallet.poll_interval must be positive")
	}
	if c.Fetch.Limit <= 0 {
		return fmt.Errorf("fetch.limit must be positive")
	}
	if c.Fetch.RetryAttempts < 1 {
		return fmt.Errorf("fetch.retry_attempts must be at least 1")
	}
	return nil
}

// GenerateDefault returns default config YAML for unstuck init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `relays:
  - wss://relay.damus.io
  - wss://relay.nostr.band
  - wss://relay.primal.net
  - wss://relay.dvmdash.live

wallet:
  # nostr+walletconnect://<wallet-pubkey>?relay=wss://...&secret=<hex>
  connect_uri: ""
  poll_interval: 2s

fetch:
  limit: 50
  retry_attempts: 3
  retry_backoff: 500ms
`
