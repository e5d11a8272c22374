package config

import (
	"errors"
	"fmt"
	"strings"
)

// MaxFeedPageSize bounds feed.page_size.
const MaxFeedPageSize = 200

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is required. Set HELPMATE_JWT_SECRET or edit the config file")
	}
	if err := c.validateBlob(); err != nil {
		return err
	}
	if c.Feed.PageSize > MaxFeedPageSize {
		return fmt.Errorf("feed.page_size must be at most %d", MaxFeedPageSize)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Store {
	case StoreMemory:
		return nil
	case StorePostgres:
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres store. Set HELPMATE_DATABASE_URL")
		}
		return nil
	default:
		return fmt.Errorf("database.store: unsupported value %q", c.Database.Store)
	}
}

func (c *Config) validateBlob() error {
	switch c.Blob.Type {
	case "local":
		return nil
	case "s3":
		if c.Blob.Bucket == "" || c.Blob.Region == "" {
			return errors.New("blob.bucket and blob.region are required for s3 storage")
		}
		return nil
	default:
		return fmt.Errorf("blob.type: unsupported value %q", c.Blob.Type)
	}
}
