package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Realtime   RealtimeConfig
	Revocation RevocationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication and session lifecycle parameters.
type AuthConfig struct {
	JWTSecret          string
	JWTFallbackSecret  string
	Issuer             string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	SessionIdleTimeout time.Duration
	HeartbeatInterval  time.Duration
	StoreTimeout       time.Duration
	RefreshReuseGrace  time.Duration
	SessionRetention   time.Duration
	SweepInterval      time.Duration
	ForceLogoutMessage string
	BcryptCost         int

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// RealtimeConfig configures the push channel listener.
type RealtimeConfig struct {
	Addr           string
	Path           string
	AllowedOrigins []string
	WriteWait      time.Duration
	PongWait       time.Duration
	SendBuffer     int
}

// RevocationConfig selects the blacklist backend.
type RevocationConfig struct {
	Backend   string
	KeyPrefix string
}

const (
	RevocationBackendMemory = "memory"
	RevocationBackendRedis  = "redis"

	defaultDevSecret = "dev-secret"
)

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "dormledger-auth"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 10),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:              getEnv("AUTH_JWT_SECRET", ""),
			JWTFallbackSecret:      os.Getenv("AUTH_JWT_FALLBACK_SECRET"),
			Issuer:                 getEnv("AUTH_JWT_ISSUER", "dormledger-auth"),
			AccessTokenTTL:         getEnvAsDuration("AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL:        getEnvAsDuration("AUTH_REFRESH_TOKEN_TTL", 7*24*time.Hour),
			SessionIdleTimeout:     getEnvAsDuration("AUTH_SESSION_IDLE_TIMEOUT", 30*time.Minute),
			HeartbeatInterval:      getEnvAsDuration("AUTH_HEARTBEAT_INTERVAL", 30*time.Second),
			StoreTimeout:           getEnvAsDuration("AUTH_STORE_TIMEOUT", 3*time.Second),
			RefreshReuseGrace:      getEnvAsDuration("AUTH_REFRESH_REUSE_GRACE", 10*time.Second),
			SessionRetention:       getEnvAsDuration("AUTH_SESSION_RETENTION", 30*24*time.Hour),
			SweepInterval:          getEnvAsDuration("AUTH_SWEEP_INTERVAL", time.Minute),
			ForceLogoutMessage:     getEnv("AUTH_FORCE_LOGOUT_MESSAGE", "Your session has been terminated by an administrator."),
			BcryptCost:             getEnvAsInt("AUTH_BCRYPT_COST", 12),
			BootstrapAdminEmail:    os.Getenv("AUTH_BOOTSTRAP_ADMIN_EMAIL"),
			BootstrapAdminPassword: os.Getenv("AUTH_BOOTSTRAP_ADMIN_PASSWORD"),
		},
		Realtime: RealtimeConfig{
			Addr:           getEnv("REALTIME_ADDR", ":8081"),
			Path:           getEnv("REALTIME_PATH", "/ws"),
			AllowedOrigins: getEnvAsList("REALTIME_ALLOWED_ORIGINS"),
			WriteWait:      getEnvAsDuration("REALTIME_WRITE_WAIT", 10*time.Second),
			PongWait:       getEnvAsDuration("REALTIME_PONG_WAIT", 60*time.Second),
			SendBuffer:     getEnvAsInt("REALTIME_SEND_BUFFER", 16),
		},
		Revocation: RevocationConfig{
			Backend:   strings.ToLower(getEnv("REVOCATION_BACKEND", RevocationBackendMemory)),
			KeyPrefix: getEnv("REVOCATION_KEY_PREFIX", "dormledger"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		if c.App.IsProduction() {
			return errors.New("AUTH_JWT_SECRET is required in production")
		}
		c.Auth.JWTSecret = defaultDevSecret
	}
	if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		return fmt.Errorf("AUTH_ACCESS_TOKEN_TTL (%s) must be shorter than AUTH_REFRESH_TOKEN_TTL (%s)",
			c.Auth.AccessTokenTTL, c.Auth.RefreshTokenTTL)
	}
	if c.Auth.SessionIdleTimeout <= c.Auth.HeartbeatInterval {
		return fmt.Errorf("AUTH_SESSION_IDLE_TIMEOUT (%s) must exceed AUTH_HEARTBEAT_INTERVAL (%s)",
			c.Auth.SessionIdleTimeout, c.Auth.HeartbeatInterval)
	}
	switch c.Revocation.Backend {
	case RevocationBackendMemory, RevocationBackendRedis:
	default:
		return fmt.Errorf("invalid REVOCATION_BACKEND %q", c.Revocation.Backend)
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (a AppConfig) IsProduction() bool {
	return strings.EqualFold(a.Env, "production") || strings.EqualFold(a.Env, "prod")
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
