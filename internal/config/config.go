// Package config loads the service configuration from a TOML file with
// environment overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level service configuration.
type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Paths    PathsConfig    `toml:"paths"`
}

// HTTPConfig tunes the listener and the request middleware.
type HTTPConfig struct {
	Addr         string `toml:"addr"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
	RateBurst    int    `toml:"rate_burst"`
	RatePerSec   int    `toml:"rate_per_sec"`
}

// DatabaseConfig carries the PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

// AuthConfig tunes session token issuance.
type AuthConfig struct {
	TokenTTLMinutes int `toml:"token_ttl_minutes"`
}

// PathsConfig locates SQL assets on disk.
type PathsConfig struct {
	MigrationsDir string `toml:"migrations_dir"`
	SeedsDir      string `toml:"seeds_dir"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			MaxBodyBytes: 1 << 20,
			RateBurst:    20,
			RatePerSec:   10,
		},
		Auth: AuthConfig{TokenTTLMinutes: 15},
		Paths: PathsConfig{
			MigrationsDir: "migrations",
			SeedsDir:      "seeds",
		},
	}
}

// Load reads the config file if it exists, then applies env overrides.
// A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SANCTUM_PG_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SANCTUM_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("SANCTUM_TOKEN_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Auth.TokenTTLMinutes = n
		}
	}
}

func validate(cfg Config) error {
	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be positive")
	}
	if cfg.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

// TokenTTL returns the session token lifetime as a duration.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}
