package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type RelayConfig struct {
	BaseURL   string `toml:"base_url"`
	Namespace string `toml:"namespace"`
	Token     string `toml:"token"`
}

type ClientConfig struct {
	Mode        string   `toml:"mode"`
	UseReasoner bool     `toml:"use_reasoner"`
	Groups      []string `toml:"groups"`
	TimeoutSecs int      `toml:"timeout_secs"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Relay  RelayConfig  `toml:"relay"`
	Client ClientConfig `toml:"client"`
	Log    LogConfig    `toml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			BaseURL:   "http://localhost:8080",
			Namespace: "loom",
		},
		Client: ClientConfig{
			Mode:        "sync",
			TimeoutSecs: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return cfg, nil
}
