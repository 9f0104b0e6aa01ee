package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// HS256 secret for verifying chat credentials issued by the business API.
	JWTSecret string

	// Business API the assistants and proxy endpoints call.
	BackendBaseURL string
	BackendTimeout time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("CARELINE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("CARELINE_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("CARELINE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CARELINE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CARELINE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CARELINE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CARELINE_HTTP_MAX_HEADER_BYTES", 1<<20),

		JWTSecret: EnvString("CARELINE_JWT_SECRET", ""),

		BackendBaseURL: EnvString("CARELINE_BACKEND_BASE_URL", "http://localhost:8081/api"),
		BackendTimeout: EnvDuration("CARELINE_BACKEND_TIMEOUT", 30*time.Second),

		DatabaseURL: EnvString("CARELINE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("CARELINE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CARELINE_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("CARELINE_READINESS_REQUIRE_DB", false),
	}
}
