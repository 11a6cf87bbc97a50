package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values. Token secrets and TTLs are
// injected into the codec and services from here, never read from ambient
// state inside business logic.
type Config struct {
	Environment     string
	HTTPPort        string
	DatabaseURL     string
	ShutdownTimeout time.Duration

	AccessTokenSecret  string
	RefreshTokenSecret string
	ResetTokenSecret   string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ResetTokenTTL      time.Duration

	CookieDomain string
	CookieSecure bool

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	LoginAttemptLimit  int
	LoginAttemptWindow time.Duration

	AdminEmail    string
	AdminPassword string

	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		ShutdownTimeout:      getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		AccessTokenSecret:    strings.TrimSpace(os.Getenv("ACCESS_TOKEN_SECRET")),
		RefreshTokenSecret:   strings.TrimSpace(os.Getenv("REFRESH_TOKEN_SECRET")),
		ResetTokenSecret:     strings.TrimSpace(os.Getenv("RESET_TOKEN_SECRET")),
		AccessTokenTTL:       getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:      getDuration("REFRESH_TOKEN_TTL", 15*24*time.Hour),
		ResetTokenTTL:        getDuration("RESET_TOKEN_TTL", 24*time.Hour),
		CookieDomain:         os.Getenv("COOKIE_DOMAIN"),
		CookieSecure:         getBool("COOKIE_SECURE", true),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		LoginAttemptLimit:    getInt("LOGIN_ATTEMPT_LIMIT", 10),
		LoginAttemptWindow:   getDuration("LOGIN_ATTEMPT_WINDOW", 15*time.Minute),
		AdminEmail:           strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:        strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		ServiceName:          getEnv("SERVICE_NAME", "smallbiznis-accounts-auth"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.AccessTokenSecret == "" {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_SECRET is required")
	}
	if cfg.RefreshTokenSecret == "" {
		return Config{}, fmt.Errorf("REFRESH_TOKEN_SECRET is required")
	}
	if cfg.ResetTokenSecret == "" {
		return Config{}, fmt.Errorf("RESET_TOKEN_SECRET is required")
	}

	// Each token purpose signs with its own secret so a valid token of one
	// purpose can never verify as another.
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret ||
		cfg.AccessTokenSecret == cfg.ResetTokenSecret ||
		cfg.RefreshTokenSecret == cfg.ResetTokenSecret {
		return Config{}, fmt.Errorf("token secrets must be pairwise distinct")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
