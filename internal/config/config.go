package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "Klinners"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultAPIBaseURL     = "http://localhost:8080"
	defaultStorageBackend = "file"
	defaultStoragePath    = ".klinners/storage.json"
	defaultNamespace      = "default"
	defaultSignInPath     = "/auth/signin"
	defaultPINTTL         = 300 * time.Second
	defaultTokenTTL       = 24 * time.Hour
	defaultShutdownDelay  = 10 * time.Second
	defaultJWTSecret      = "dev-secret-change-me"
)

// Storage backends understood by storage.Open.
const (
	StorageMemory   = "memory"
	StorageNone     = "none"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config captures runtime configuration loaded from environment variables.
type Config struct {
	AppName  string
	AppEnv   string
	LogLevel string

	// Remote REST API used by the client packages.
	APIBaseURL   string
	APITimeout   time.Duration
	APIRateLimit float64

	// Persistence surface for the bearer token and the cached user record.
	StorageBackend   string
	StoragePath      string
	StorageNamespace string
	RedisURL         string
	DatabaseURL      string

	SignInPath string
	PINTTL     time.Duration

	// Stub API server.
	Port           string
	JWTSecret      string
	TokenTTL       time.Duration
	ShutdownPeriod time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		APIBaseURL:       strings.TrimRight(getEnv("API_BASE_URL", defaultAPIBaseURL), "/"),
		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", defaultStorageBackend)),
		StoragePath:      getEnv("STORAGE_PATH", defaultStoragePath),
		StorageNamespace: getEnv("STORAGE_NAMESPACE", defaultNamespace),
		RedisURL:         os.Getenv("REDIS_URL"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SignInPath:       getEnv("SIGNIN_PATH", defaultSignInPath),
		PINTTL:           defaultPINTTL,
		Port:             getEnv("PORT", defaultPort),
		JWTSecret:        getEnv("JWT_SECRET", defaultJWTSecret),
		TokenTTL:         defaultTokenTTL,
		ShutdownPeriod:   defaultShutdownDelay,
	}

	var err error
	if cfg.APITimeout, err = durationEnv("API_TIMEOUT", 0); err != nil {
		return Config{}, err
	}
	if cfg.PINTTL, err = durationEnv("PIN_TTL", cfg.PINTTL); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = durationEnv("TOKEN_TTL", cfg.TokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("API_RATE_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid API_RATE_LIMIT: %w", err)
		}
		cfg.APIRateLimit = limit
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected storage backend has what it needs.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory, StorageNone:
	case StorageFile:
		if c.StoragePath == "" {
			return fmt.Errorf("STORAGE_PATH must be set for the file backend")
		}
	case StorageRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set for the redis backend")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.PINTTL <= 0 {
		return fmt.Errorf("PIN_TTL must be positive")
	}
	if c.APIRateLimit < 0 {
		return fmt.Errorf("API_RATE_LIMIT must not be negative")
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// durationEnv accepts either a Go duration ("90s") or a whole number of seconds.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
