package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	t.Setenv("MONGODB_DATABASE", "kolesa_test")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "testsecret123456789012345678901234")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "mongodb://localhost:27017/testdb", cfg.MongoDB.URI)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, time.Hour, cfg.JWT.AccessTokenTTL)
	require.Equal(t, 30*24*time.Hour, cfg.JWT.RefreshTokenTTL)
	require.Equal(t, int64(16*1024*1024), cfg.Upload.MaxBytes)
	require.Contains(t, cfg.Upload.AllowedExtensions, "jpeg")
	require.Equal(t, []string{"ru", "kk", "en"}, cfg.App.Languages)
	require.Equal(t, "Asia/Almaty", cfg.Location().String())
	require.Equal(t, 300*time.Second, cfg.Cache.TTL)
}

func TestLoadConfig_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("SERVER_ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestRedisAddrEmptyWhenUnset(t *testing.T) {
	require.Equal(t, "", RedisConfig{Port: "6379"}.Addr())
}

func TestLoadConfig_DevelopmentFallbackSecret(t *testing.T) {
	t.Setenv("SERVER_ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CORS_ORIGINS", "https://kolesa.kz, https://m.kolesa.kz")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, devJWTSecret, cfg.JWT.Secret)
	require.Equal(t, []string{"https://kolesa.kz", "https://m.kolesa.kz"}, cfg.Server.CORSOrigins)
}
