package config

import (
	"log/slog"
	"strings"
	"time"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           slog.Level
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	AuthGatewayToken   string
	AdminKeyHash       string
	AllowListCacheTTL  time.Duration
	DefaultPageSize    int
	MaxPageSize        int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		LogLevel:           parseLevel(GetString("LOG_LEVEL", "info")),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://lab:lab@db:5432/experiments?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		RefreshTokenTTL:    time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		AuthGatewayToken:   GetString("AUTH_GATEWAY_TOKEN", ""),
		AdminKeyHash:       GetString("ADMIN_KEY_HASH", ""),
		AllowListCacheTTL:  GetSeconds("ALLOWLIST_CACHE_TTL_SECONDS", 30*time.Second),
		DefaultPageSize:    GetInt("DEFAULT_PAGE_SIZE", 50),
		MaxPageSize:        GetInt("MAX_PAGE_SIZE", 500),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
