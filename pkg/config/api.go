package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string // empty uses the bundled migrations
	AutoMigrate        bool
	StorageBackend     string
	FixtureDir         string
	EventSchema        string
	JWTSecret          string
	AuthEmailDomain    string
	TokenTTL           time.Duration
	CacheBackend       string
	CacheRedisAddr     string
	CacheRedisPass     string
	CacheRedisDB       int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	RateLimitPerMinute int
	EventChannel       string
	FeedEnabled        bool
	FeedBuffer         int
	StatsWindowDays    int
	DefaultPageLimit   int
	MaxPageLimit       int
	ShutdownTimeout    time.Duration
	LogLevel           string
	LogFormat          string
}

// Production reports whether the API runs with production settings.
func (c APIConfig) Production() bool {
	return c.Environment == "production"
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://dashboard:dashboard@db:5432/dashboard?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", ""),
		AutoMigrate:        GetBool("DB_AUTO_MIGRATE", false),
		StorageBackend:     GetString("STORAGE_BACKEND", "postgres"),
		FixtureDir:         GetString("FIXTURE_DIR", "internal/repository/fixture/testdata"),
		EventSchema:        GetString("EVENT_SCHEMA", "instance"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AuthEmailDomain:    GetString("AUTH_EMAIL_DOMAIN", ""),
		TokenTTL:           time.Duration(GetInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		CacheBackend:       GetString("CACHE_BACKEND", "memory"),
		CacheRedisAddr:     GetString("CACHE_REDIS_ADDR", ""),
		CacheRedisPass:     GetString("CACHE_REDIS_PASSWORD", ""),
		CacheRedisDB:       GetInt("CACHE_REDIS_DB", 0),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		RateLimitPerMinute: GetInt("RATE_LIMIT_PER_MINUTE", 120),
		EventChannel:       GetString("EVENT_CHANNEL", "deployment_events"),
		FeedEnabled:        GetBool("FEED_ENABLED", true),
		FeedBuffer:         GetInt("WS_EVENT_BUFFER", 64),
		StatsWindowDays:    GetInt("STATS_WINDOW_DAYS", 30),
		DefaultPageLimit:   GetInt("DEFAULT_PAGE_LIMIT", 10),
		MaxPageLimit:       GetInt("MAX_PAGE_LIMIT", 100),
		ShutdownTimeout:    GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		LogFormat:          GetString("LOG_FORMAT", "json"),
	}
}
