package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the server configuration, usually ~/.chatty/chattyd.toml.
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	LogPath    string `toml:"log_path"`

	Mongo MongoConfig `toml:"mongo"`
	Auth  AuthConfig  `toml:"auth"`
	LLM   LLMConfig   `toml:"llm"`
}

type MongoConfig struct {
	URL      string `toml:"url"`
	Database string `toml:"database"`
}

type AuthConfig struct {
	// Secret signs bearer tokens. The CHATTY_SECRET environment
	// variable overrides it so the secret can stay out of the file.
	Secret        string `toml:"secret"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
}

type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":3000",
		Mongo: MongoConfig{
			URL:      "mongodb://localhost:27017",
			Database: "chatty",
		},
		Auth: AuthConfig{
			TokenTTLHours: 24 * 7,
		},
		LLM: LLMConfig{
			Model: "phi-4",
		},
	}
}

// DefaultPath returns the conventional config location,
// ~/.chatty/chattyd.toml. Empty when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chatty", "chattyd.toml")
}

// Load reads config from the given path, layering it over defaults.
// A missing file is fine; a missing auth secret is not.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if env := os.Getenv("CHATTY_SECRET"); env != "" {
		cfg.Auth.Secret = env
	}
	if cfg.Auth.Secret == "" {
		return nil, errors.New("auth secret not set (auth.secret or CHATTY_SECRET)")
	}
	return cfg, nil
}

// TokenTTL returns the token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}
