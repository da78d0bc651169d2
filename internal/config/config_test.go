package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("ENV_FILE_PATH", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("PAYMENT_SECRET", "pay")
	t.Setenv("ADMIN_PASSWORD", "pw")
	t.Setenv("ADMIN_TOTP_SECRET", "JBSWY3DPEHPK3PXP")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "sqlite:lucky-wheel.db", cfg.DatabaseURL)
	assert.Equal(t, 1000, cfg.GlobalDailyLimit)
	assert.Equal(t, 15*time.Minute, cfg.PendingLeaseTTL)
	assert.Equal(t, time.UTC, cfg.Timezone)
	assert.Equal(t, "wheel-events", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("GLOBAL_DAILY_LIMIT", "250")
	t.Setenv("WHEEL_TIMEZONE", "Asia/Tokyo")
	t.Setenv("PENDING_LEASE_TTL", "0")
	t.Setenv("CATALOG_CACHE_TTL", "90")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ADMIN_ALLOWED_IPS", "127.0.0.1,10.0.0.0/8")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.GlobalDailyLimit)
	assert.Equal(t, "Asia/Tokyo", cfg.Timezone.String())
	assert.Zero(t, cfg.PendingLeaseTTL)
	assert.Equal(t, 90*time.Second, cfg.CatalogCacheTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.0/8"}, cfg.AdminAllowedIPs)
	assert.Equal(t, "DEBUG", cfg.LogLevel.String())
}

func TestLoadFromEnvFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=9999\nREDIS_URL=redis://cache:6379/0\n"), 0o600))
	t.Setenv("ENV_FILE_PATH", path)
	t.Setenv("HTTP_PORT", "")
	t.Setenv("REDIS_URL", "")
	os.Unsetenv("HTTP_PORT")
	os.Unsetenv("REDIS_URL")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, path, cfg.EnvFilePath)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"negative limit": {"GLOBAL_DAILY_LIMIT", "-1"},
		"non-int limit":  {"GLOBAL_DAILY_LIMIT", "lots"},
		"bad timezone":   {"WHEEL_TIMEZONE", "Mars/Olympus"},
		"missing secret": {"PAYMENT_SECRET", ""},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
