package config

import (
	"os"
	"strings"
)

// Environment overrides. A set variable wins over the file value.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"HELPMATE_STORE", func(c *Config) *string { return &c.Database.Store }},
	{"HELPMATE_DATABASE_URL", func(c *Config) *string { return &c.Database.URL }},
	{"HELPMATE_JWT_SECRET", func(c *Config) *string { return &c.Auth.JWTSecret }},
	{"HELPMATE_REDIS_ADDR", func(c *Config) *string { return &c.Redis.Addr }},
	{"HELPMATE_REDIS_PASSWORD", func(c *Config) *string { return &c.Redis.Password }},
	{"HELPMATE_NATS_URL", func(c *Config) *string { return &c.NATS.URL }},
	{"HELPMATE_BLOB_TYPE", func(c *Config) *string { return &c.Blob.Type }},
	{"HELPMATE_S3_BUCKET", func(c *Config) *string { return &c.Blob.Bucket }},
	{"HELPMATE_S3_REGION", func(c *Config) *string { return &c.Blob.Region }},
	{"HELPMATE_S3_ENDPOINT", func(c *Config) *string { return &c.Blob.Endpoint }},
	{"HELPMATE_S3_ACCESS_KEY", func(c *Config) *string { return &c.Blob.AccessKey }},
	{"HELPMATE_S3_SECRET_KEY", func(c *Config) *string { return &c.Blob.SecretKey }},
	{"HELPMATE_LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }},
	{"HELPMATE_LOG_FORMAT", func(c *Config) *string { return &c.Logging.Format }},
}

func (c *Config) applyEnv() {
	for _, o := range envOverrides {
		if value, ok := os.LookupEnv(o.name); ok {
			*o.field(c) = value
		}
	}
}

func (c *Config) normalize() {
	c.Database.Store = strings.ToLower(strings.TrimSpace(c.Database.Store))
	if c.Database.Store == "" {
		c.Database.Store = defaultStore
	}
	c.Database.URL = strings.TrimSpace(c.Database.URL)
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = defaultMaxConns
	}

	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = defaultTokenTTLHours
	}

	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
	if c.Redis.CacheTTLHours <= 0 {
		c.Redis.CacheTTLHours = defaultCacheTTLHours
	}
	if c.Redis.NegativeTTLMinutes <= 0 {
		c.Redis.NegativeTTLMinutes = defaultNegativeTTLMinutes
	}

	c.NATS.URL = strings.TrimSpace(c.NATS.URL)
	c.NATS.SubjectPrefix = strings.Trim(strings.TrimSpace(c.NATS.SubjectPrefix), ".")
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = defaultNATSSubjectPrefix
	}

	c.Blob.Type = strings.ToLower(strings.TrimSpace(c.Blob.Type))
	if c.Blob.Type == "" {
		c.Blob.Type = defaultBlobType
	}
	if c.Blob.Type == "local" && strings.TrimSpace(c.Blob.BasePath) == "" {
		c.Blob.BasePath = defaultBlobBasePath
	}

	c.Geocode.BaseURL = strings.TrimRight(strings.TrimSpace(c.Geocode.BaseURL), "/")
	if c.Geocode.BaseURL == "" {
		c.Geocode.BaseURL = defaultGeocodeBaseURL
	}
	if strings.TrimSpace(c.Geocode.UserAgent) == "" {
		c.Geocode.UserAgent = defaultGeocodeUserAgent
	}
	if c.Geocode.TimeoutSeconds <= 0 {
		c.Geocode.TimeoutSeconds = defaultGeocodeTimeout
	}

	if c.Autosave.WindowMillis <= 0 {
		c.Autosave.WindowMillis = defaultAutosaveWindow
	}
	if c.Autosave.Attempts <= 0 {
		c.Autosave.Attempts = defaultAutosaveAttempts
	}
	if c.Autosave.BaseDelayMillis <= 0 {
		c.Autosave.BaseDelayMillis = defaultAutosaveBaseDelay
	}

	if c.Feed.PageSize <= 0 {
		c.Feed.PageSize = defaultFeedPageSize
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
