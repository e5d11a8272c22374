// Package config loads HelpMate settings from a TOML file, an optional .env
// file and HELPMATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Database selects the document store and its connection.
type Database struct {
	Store    string `toml:"store"`
	URL      string `toml:"url"`
	MaxConns int32  `toml:"max_conns"`
}

// Auth configures session token signing.
type Auth struct {
	JWTSecret     string `toml:"jwt_secret"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
}

// Redis backs the geocode cache. An empty address disables caching.
type Redis struct {
	Addr               string `toml:"addr"`
	Password           string `toml:"password"`
	DB                 int    `toml:"db"`
	KeyPrefix          string `toml:"key_prefix"`
	CacheTTLHours      int    `toml:"cache_ttl_hours"`
	NegativeTTLMinutes int    `toml:"negative_ttl_minutes"`
}

// NATS carries lifecycle events. An empty URL disables publishing.
type NATS struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Blob configures avatar storage.
type Blob struct {
	Type      string `toml:"type"`
	BasePath  string `toml:"base_path"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Geocode configures the address lookup service.
type Geocode struct {
	BaseURL        string `toml:"base_url"`
	UserAgent      string `toml:"user_agent"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Autosave tunes the profile save pipeline.
type Autosave struct {
	WindowMillis    int `toml:"window_ms"`
	Attempts        int `toml:"attempts"`
	BaseDelayMillis int `toml:"base_delay_ms"`
}

// Feed tunes the discovery feed.
type Feed struct {
	PageSize int `toml:"page_size"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for HelpMate.
type Config struct {
	Database Database `toml:"database"`
	Auth     Auth     `toml:"auth"`
	Redis    Redis    `toml:"redis"`
	NATS     NATS     `toml:"nats"`
	Blob     Blob     `toml:"blob"`
	Geocode  Geocode  `toml:"geocode"`
	Autosave Autosave `toml:"autosave"`
	Feed     Feed     `toml:"feed"`
	Logging  Logging  `toml:"logging"`
}

// Load reads the .env file (default ".env", missing is fine), then the TOML
// file at path if it exists, applies environment overrides, and validates.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := loadDotEnv(f); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// TokenTTL returns the session token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLHours) * time.Hour
}

func (c *Config) NegativeCacheTTL() time.Duration {
	return time.Duration(c.Redis.NegativeTTLMinutes) * time.Minute
}

func (c *Config) GeocodeTimeout() time.Duration {
	return time.Duration(c.Geocode.TimeoutSeconds) * time.Second
}

func (c *Config) AutosaveWindow() time.Duration {
	return time.Duration(c.Autosave.WindowMillis) * time.Millisecond
}

func (c *Config) AutosaveBaseDelay() time.Duration {
	return time.Duration(c.Autosave.BaseDelayMillis) * time.Millisecond
}

// Sample renders the configuration as TOML.
func (c *Config) Sample() (string, error) {
	out, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(out), nil
}
