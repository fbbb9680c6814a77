package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefaultTemplateRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("template did not parse: %v", err)
	}
	if len(cfg.Relays) != 4 {
		t.Fatalf("relays = %v", cfg.Relays)
	}
	if cfg.Wallet.PollInterval != 2*time.Second {
		t.Fatalf("poll interval = %v", cfg.Wallet.PollInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no relays", func(c *Config) { c.Relays = nil }, "at least one relay"},
		{"http relay", func(c *Config) { c.Relays = []string{"https://relay.example"} }, "ws://"},
		{"bad wallet uri", func(c *Config) { c.Wallet.ConnectURI = "lndconnect://x" }, "walletconnect"},
		{"zero limit", func(c *Config) { c.Fetch.Limit = 0 }, "fetch.limit"},
		{"zero interval", func(c *Config) { c.Wallet.PollInterval = 0 }, "poll_interval"},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want containing %q", tc.name, err, tc.want)
		}
	}
}

func TestOverlayKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("relays:\n  - wss://relay.local\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Relays) != 1 || cfg.Relays[0] != "wss://relay.local" {
		t.Fatalf("relays = %v", cfg.Relays)
	}
	if cfg.Fetch.RetryAttempts != 3 {
		t.Fatalf("retry attempts lost default: %d", cfg.Fetch.RetryAttempts)
	}
}
