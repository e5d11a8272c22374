package config

const (
	defaultStore              = StoreMemory
	defaultMaxConns           = 10
	defaultTokenTTLHours      = 24
	defaultRedisKeyPrefix     = "helpmate:geocode:"
	defaultCacheTTLHours      = 30 * 24
	defaultNegativeTTLMinutes = 60
	defaultNATSSubjectPrefix  = "helpmate"
	defaultBlobType           = "local"
	defaultBlobBasePath       = "./data/blobs"
	defaultGeocodeBaseURL     = "https://nominatim.openstreetmap.org"
	defaultGeocodeUserAgent   = "HelpMate/dev"
	defaultGeocodeTimeout     = 10
	defaultAutosaveWindow     = 600
	defaultAutosaveAttempts   = 3
	defaultAutosaveBaseDelay  = 1000
	defaultFeedPageSize       = 25
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Database: Database{
			Store:    defaultStore,
			MaxConns: defaultMaxConns,
		},
		Auth: Auth{
			TokenTTLHours: defaultTokenTTLHours,
		},
		Redis: Redis{
			KeyPrefix:          defaultRedisKeyPrefix,
			CacheTTLHours:      defaultCacheTTLHours,
			NegativeTTLMinutes: defaultNegativeTTLMinutes,
		},
		NATS: NATS{
			SubjectPrefix: defaultNATSSubjectPrefix,
		},
		Blob: Blob{
			Type:     defaultBlobType,
			BasePath: defaultBlobBasePath,
		},
		Geocode: Geocode{
			BaseURL:        defaultGeocodeBaseURL,
			UserAgent:      defaultGeocodeUserAgent,
			TimeoutSeconds: defaultGeocodeTimeout,
		},
		Autosave: Autosave{
			WindowMillis:    defaultAutosaveWindow,
			Attempts:        defaultAutosaveAttempts,
			BaseDelayMillis: defaultAutosaveBaseDelay,
		},
		Feed: Feed{
			PageSize: defaultFeedPageSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
