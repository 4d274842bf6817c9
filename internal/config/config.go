package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Database  DatabaseConfig
	Local     LocalStoreConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Logging   LoggingConfig
	App       AppConfig
	Activity  ActivityConfig
	Migration MigrationConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

// BackendConfig selects the remote persistence backend. An empty DSN means
// the CouchDB settings in DatabaseConfig are used.
type BackendConfig struct {
	DSN              string
	OperationTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type LocalStoreConfig struct {
	// Path of the JSON file used when RedisURL is empty.
	Path     string
	RedisURL string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Enabled           bool
	// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty means forwarding headers are ignored.
	TrustedProxies []netip.Prefix
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

// AppConfig holds the compiled/env-derived half of the AppConfiguration
// baseline. The platform half is probed at startup.
type AppConfig struct {
	APIEndpoint      string
	RemoteBackendURL string
	RemoteBackendKey string
	Environment      string
	Version          string
	BuildTimestamp   string
}

type ActivityConfig struct {
	FlushInterval  time.Duration
	BatchThreshold int
	RequeueLimit   int
	LocalRingSize  int
}

type MigrationConfig struct {
	CodeTTL       time.Duration
	HistoryLimit  int
	PurgeSchedule string
}

// Version and BuildTimestamp are overridden at link time with -ldflags -X.
var (
	Version        = "1.0.0"
	BuildTimestamp = ""
)

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := getEnvAsDuration("JWT_EXPIRATION", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	opTimeout, err := getEnvAsDuration("BACKEND_OPERATION_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	flushInterval, err := getEnvAsDuration("ACTIVITY_FLUSH_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	codeTTL, err := getEnvAsDuration("MIGRATION_CODE_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	trustedProxies, err := getEnvAsPrefixes("RATE_LIMIT_TRUSTED_PROXIES")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Backend: BackendConfig{
			DSN:              getEnv("BACKEND_DSN", ""),
			OperationTimeout: opTimeout,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "statebridge"),
		},
		Local: LocalStoreConfig{
			Path:     getEnv("LOCAL_STORE_PATH", defaultLocalStorePath()),
			RedisURL: getEnv("LOCAL_REDIS_URL", ""),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration: jwtExp,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 1024),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxConnPerUser:  getEnvAsInt("WS_MAX_CONN_PER_USER", 5),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 30),
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			TrustedProxies:    trustedProxies,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization,X-Session-ID"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		App: AppConfig{
			APIEndpoint:      getEnv("APP_API_ENDPOINT", "http://localhost:8080/api/v1"),
			RemoteBackendURL: getEnv("APP_REMOTE_BACKEND_URL", ""),
			RemoteBackendKey: getEnv("APP_REMOTE_BACKEND_KEY", ""),
			Environment:      getEnv("APP_ENV", "development"),
			Version:          getEnv("APP_VERSION", Version),
			BuildTimestamp:   getEnv("APP_BUILD_TIMESTAMP", BuildTimestamp),
		},
		Activity: ActivityConfig{
			FlushInterval:  flushInterval,
			BatchThreshold: getEnvAsInt("ACTIVITY_BATCH_THRESHOLD", 10),
			RequeueLimit:   getEnvAsInt("ACTIVITY_REQUEUE_LIMIT", 10),
			LocalRingSize:  getEnvAsInt("ACTIVITY_LOCAL_RING_SIZE", 50),
		},
		Migration: MigrationConfig{
			CodeTTL:       codeTTL,
			HistoryLimit:  getEnvAsInt("MIGRATION_HISTORY_LIMIT", 5),
			PurgeSchedule: getEnv("MIGRATION_PURGE_SCHEDULE", "@every 1h"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("invalid APP_ENV %q: want development, staging or production", c.App.Environment)
	}

	if c.App.Environment == "production" && c.JWT.Secret == "dev-secret-change-in-production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}

	if c.Activity.BatchThreshold <= 0 {
		return fmt.Errorf("ACTIVITY_BATCH_THRESHOLD must be positive")
	}

	if c.Activity.RequeueLimit < 0 {
		return fmt.Errorf("ACTIVITY_REQUEUE_LIMIT must not be negative")
	}

	if c.Activity.LocalRingSize <= 0 {
		return fmt.Errorf("ACTIVITY_LOCAL_RING_SIZE must be positive")
	}

	if c.Migration.CodeTTL <= 0 {
		return fmt.Errorf("MIGRATION_CODE_TTL must be positive")
	}

	return nil
}

// CouchURL builds the CouchDB connection URL from the database settings.
func (c *Config) CouchURL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
	)
}

func defaultLocalStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "statebridge-local.json"
	}
	return dir + string(os.PathSeparator) + "statebridge" + string(os.PathSeparator) + "local.json"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

// getEnvAsPrefixes reads a comma-separated list of addresses or CIDR ranges.
// A bare address is a single-host range.
func getEnvAsPrefixes(key string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			prefix, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// NewLogger builds the structured logger used by the engine components.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// BackendDSN is the configured DSN, or the CouchDB database described by the
// DB_* settings when none is set.
func (c *Config) BackendDSN() string {
	if c.Backend.DSN != "" {
		return c.Backend.DSN
	}
	return c.CouchURL() + "/" + c.Database.Name
}
