// Package config loads service settings from the environment, reading a
// .env file first when one is present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	AppPort string

	StoreBackend string
	SQLitePath   string
	RedisAddr    string
	RedisDB      int
	CacheTTL     time.Duration

	LogLevel  string
	LogFormat string

	OverdueScanInterval time.Duration
	SeedSampleData      bool
}

func getenv(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func getint(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		slog.Warn("ignoring malformed integer setting", "key", k, "value", v)
	}
	return d
}

// Load reads .env (current directory, then its parent) and the environment.
// A missing .env file is not an error.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		if err = godotenv.Load("../.env"); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not read .env file, using environment only", "error", err)
		}
	}

	c := &Config{
		AppPort:      getenv("APP_PORT", "8080"),
		StoreBackend: strings.ToLower(getenv("STORE_BACKEND", BackendSQLite)),
		SQLitePath:   getenv("SQLITE_PATH", "lendbook.db"),
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		RedisDB:      getint("REDIS_DB", 0),
		CacheTTL:     time.Duration(getint("CACHE_TTL_SECONDS", 0)) * time.Second,

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		OverdueScanInterval: time.Duration(getint("OVERDUE_SCAN_SECONDS", 60)) * time.Second,
	}
	if v, err := strconv.ParseBool(getenv("SEED_SAMPLE_DATA", "false")); err == nil {
		c.SeedSampleData = v
	}
	return c
}

func (c *Config) Validate() error {
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	if _, err := net.LookupPort("tcp", c.AppPort); err != nil {
		return fmt.Errorf("invalid APP_PORT %q: %w", c.AppPort, err)
	}
	switch c.StoreBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("missing SQLITE_PATH")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("missing REDIS_ADDR")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("invalid REDIS_DB %d", c.RedisDB)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want sqlite or redis)", c.StoreBackend)
	}
	if c.CacheTTL < 0 {
		return errors.New("CACHE_TTL_SECONDS must not be negative")
	}
	if c.OverdueScanInterval <= 0 {
		return errors.New("OVERDUE_SCAN_SECONDS must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + c.AppPort }
