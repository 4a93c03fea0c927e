package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"APP_PORT", "STORE_BACKEND", "SQLITE_PATH", "REDIS_ADDR", "REDIS_DB",
	"CACHE_TTL_SECONDS", "LOG_LEVEL", "LOG_FORMAT", "OVERDUE_SCAN_SECONDS", "SEED_SAMPLE_DATA",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	c := Load()

	assert.Equal(t, "8080", c.AppPort)
	assert.Equal(t, BackendSQLite, c.StoreBackend)
	assert.Equal(t, "lendbook.db", c.SQLitePath)
	assert.Equal(t, "localhost:6379", c.RedisAddr)
	assert.Equal(t, 0, c.RedisDB)
	assert.Equal(t, time.Duration(0), c.CacheTTL)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, time.Minute, c.OverdueScanInterval)
	assert.False(t, c.SeedSampleData)
	assert.Equal(t, ":8080", c.Addr())
	require.NoError(t, c.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CACHE_TTL_SECONDS", "30")
	t.Setenv("OVERDUE_SCAN_SECONDS", "5")
	t.Setenv("SEED_SAMPLE_DATA", "true")

	c := Load()
	assert.Equal(t, BackendRedis, c.StoreBackend)
	assert.Equal(t, "cache:6380", c.RedisAddr)
	assert.Equal(t, 3, c.RedisDB)
	assert.Equal(t, 30*time.Second, c.CacheTTL)
	assert.Equal(t, 5*time.Second, c.OverdueScanInterval)
	assert.True(t, c.SeedSampleData)
	require.NoError(t, c.Validate())
}

func TestLoad_MalformedIntegerFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_DB", "two")
	assert.Equal(t, 0, Load().RedisDB)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.StoreBackend = "postgres" }},
		{"empty port", func(c *Config) { c.AppPort = "" }},
		{"bad port", func(c *Config) { c.AppPort = "99999" }},
		{"empty sqlite path", func(c *Config) { c.SQLitePath = "" }},
		{"redis without addr", func(c *Config) { c.StoreBackend = BackendRedis; c.RedisAddr = "" }},
		{"negative cache ttl", func(c *Config) { c.CacheTTL = -time.Second }},
		{"zero scan interval", func(c *Config) { c.OverdueScanInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			c := Load()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
