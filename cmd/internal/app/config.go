package app

import "time"

// Config contains the process-level runtime configuration loaded from
// environment variables. Auth, websocket and cookie settings live in their
// own packages.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	// CORS. An empty origin list disables the CORS layer entirely.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// TrustProxy rewrites RemoteAddr from X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	MigrateOnStart bool

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool

	// RedisURL selects the Redis refresh store. Empty keeps refresh hashes in
	// the identity store.
	RedisURL    string
	RedisPrefix string

	// If true, CHAT_AUTH_REFRESH_HASH_KEY must be set and distinct from the
	// refresh signing secret.
	RequireRefreshHashKey bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("CHAT_HTTP_ADDR", ":8080"),
		LogLevel:  EnvString("CHAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("CHAT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CHAT_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHAT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHAT_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHAT_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("CHAT_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("CHAT_SHUTDOWN_TIMEOUT", 10*time.Second),

		CORSAllowedOrigins:   EnvCSV("CHAT_CORS_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("CHAT_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("CHAT_CORS_MAX_AGE", 600),

		TrustProxy: EnvBool("CHAT_TRUST_PROXY", false),

		DatabaseURL:    EnvString("CHAT_DATABASE_URL", ""),
		DBMaxConns:     EnvInt32("CHAT_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("CHAT_DB_MIN_CONNS", 0),
		MigrateOnStart: EnvBool("CHAT_DB_MIGRATE_ON_START", false),

		ReadinessRequireDB: EnvBool("CHAT_READINESS_REQUIRE_DB", false),

		RedisURL:    EnvString("CHAT_REDIS_URL", ""),
		RedisPrefix: EnvString("CHAT_REDIS_PREFIX", "chat"),

		RequireRefreshHashKey: EnvBool("CHAT_REQUIRE_REFRESH_HASH_KEY", false),
	}
}
