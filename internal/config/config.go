package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	EnvFilePath string
	HTTPPort    string
	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret       string
	JWTIssuer       string
	PaymentSecret   string
	PaymentIssuer   string
	AdminPassword   string
	AdminAllowedIPs []string
	AdminTOTPSecret string

	GlobalDailyLimit   int
	Timezone           *time.Location
	PendingLeaseTTL    time.Duration
	LeaseSweepInterval time.Duration
	CatalogCacheTTL    time.Duration
	QuotaScheduleTick  time.Duration

	FulfillmentBackendURL   string
	FulfillmentBackendToken string

	LogLevel slog.Level
}

func Load() (*Config, error) {
	envPath := resolveEnvPath()
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		envPath = ".env"
		_ = godotenv.Load()
	}

	cfg := &Config{
		EnvFilePath:             getEnv("ENV_FILE_PATH", envPath),
		HTTPPort:                getEnv("HTTP_PORT", "8080"),
		DatabaseURL:             getEnv("DATABASE_URL", "sqlite:lucky-wheel.db"),
		RedisURL:                os.Getenv("REDIS_URL"),
		KafkaBrokers:            splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:              getEnv("KAFKA_TOPIC", "wheel-events"),
		JWTSecret:               os.Getenv("JWT_SECRET"),
		JWTIssuer:               getEnv("JWT_ISSUER", "lucky-wheel"),
		PaymentSecret:           os.Getenv("PAYMENT_SECRET"),
		PaymentIssuer:           os.Getenv("PAYMENT_ISSUER"),
		AdminPassword:           os.Getenv("ADMIN_PASSWORD"),
		AdminAllowedIPs:         splitCSV(os.Getenv("ADMIN_ALLOWED_IPS")),
		AdminTOTPSecret:         os.Getenv("ADMIN_TOTP_SECRET"),
		PendingLeaseTTL:         getDuration("PENDING_LEASE_TTL", 15*time.Minute),
		LeaseSweepInterval:      getDuration("LEASE_SWEEP_INTERVAL", 30*time.Second),
		CatalogCacheTTL:         getDuration("CATALOG_CACHE_TTL", 30*time.Second),
		QuotaScheduleTick:       getDuration("QUOTA_SCHEDULER_TICK", 5*time.Second),
		FulfillmentBackendURL:   os.Getenv("FULFILLMENT_BACKEND_URL"),
		FulfillmentBackendToken: os.Getenv("FULFILLMENT_BACKEND_TOKEN"),
	}

	limit, err := getInt("GLOBAL_DAILY_LIMIT", 1000)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, errors.New("GLOBAL_DAILY_LIMIT must not be negative")
	}
	cfg.GlobalDailyLimit = limit

	loc, err := time.LoadLocation(getEnv("WHEEL_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("WHEEL_TIMEZONE: %w", err)
	}
	cfg.Timezone = loc

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.PaymentSecret == "" {
		return nil, errors.New("PAYMENT_SECRET is required to verify payment proofs")
	}
	if cfg.AdminPassword == "" {
		return nil, errors.New("ADMIN_PASSWORD is required")
	}
	if cfg.AdminTOTPSecret == "" {
		return nil, errors.New("ADMIN_TOTP_SECRET is required for admin login")
	}
	if cfg.PendingLeaseTTL > 0 && cfg.LeaseSweepInterval <= 0 {
		return nil, errors.New("LEASE_SWEEP_INTERVAL must be positive when leases are enabled")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return time.Duration(v) * time.Second
	}
	return def
}

func resolveEnvPath() string {
	if path := os.Getenv("ENV_FILE_PATH"); path != "" {
		return path
	}
	candidates := []string{".env", "local-only/.env"}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
