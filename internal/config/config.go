package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config represents the global ~/.chatline/config.toml, with CHATLINE_*
// environment variables taking precedence over file values.
type Config struct {
	DefaultProfile string `toml:"default_profile" env:"CHATLINE_PROFILE"`

	// Backend surface.
	RedisAddr   string `toml:"redis_addr" env:"CHATLINE_REDIS_ADDR" validate:"required"`
	RedisPrefix string `toml:"redis_prefix" env:"CHATLINE_REDIS_PREFIX" validate:"required"`

	// Media object storage. CDN domain is optional; when empty, public
	// storage.googleapis.com URLs are handed out.
	MediaBucket    string `toml:"media_bucket" env:"CHATLINE_MEDIA_BUCKET"`
	MediaCDNDomain string `toml:"media_cdn_domain" env:"CHATLINE_MEDIA_CDN_DOMAIN"`

	// Inbound push intake listener.
	PushListenAddr string `toml:"push_listen_addr" env:"CHATLINE_PUSH_LISTEN_ADDR" validate:"required,hostname_port"`
}

// Default returns a config with working local defaults for everything that
// has one. RedisAddr has no safe default and must come from file or env.
func Default() Config {
	return Config{
		RedisPrefix:    "chat",
		PushListenAddr: "127.0.0.1:8674",
	}
}

// Load reads config from the given path, applies environment overrides and
// validates the result. A missing file is not an error: env-only setups are
// supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
