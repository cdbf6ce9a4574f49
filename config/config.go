/*
Package config loads runtime settings and builds the shared logger.

SOURCES (later wins):
  1. Built-in defaults
  2. .env file in the working directory (optional)
  3. Process environment
  4. Command-line flags applied by cmd/server

VARIABLES:
  HTTP_PORT             8080
  DATABASE_PATH         stock.db
  LOG_LEVEL             info (panic, fatal, error, warn, info, debug, trace)
  LOG_FORMAT            json (json, text)
  REDIS_ADDRESS         empty = in-process medication locks
  LOCK_TTL              30s
  STORE_TIMEOUT         15s
  CLOSE_TO_EXPIRE_DAYS  30
  RECONCILE_INTERVAL    1h (0 disables the scheduler)
  CORS_ALLOWED_ORIGINS  http://localhost:5173,http://localhost:8080
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the server needs.
type Config struct {
	Port              string
	DatabasePath      string
	LogLevel          string
	LogFormat         string
	RedisAddress      string
	LockTTL           time.Duration
	StoreTimeout      time.Duration
	CloseToExpireDays int
	ReconcileInterval time.Duration
	AllowedOrigins    []string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:              "8080",
		DatabasePath:      "stock.db",
		LogLevel:          "info",
		LogFormat:         "json",
		LockTTL:           30 * time.Second,
		StoreTimeout:      15 * time.Second,
		CloseToExpireDays: 30,
		ReconcileInterval: time.Hour,
		AllowedOrigins:    []string{"http://localhost:5173", "http://localhost:8080"},
	}
}

// Load reads .env (if present) and the environment on top of Default.
func Load() (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()

	if v := getenv("HTTP_PORT"); v != "" {
		cfg.Port = v
	}
	if v := getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	cfg.RedisAddress = getenv("REDIS_ADDRESS")

	var err error
	if cfg.LockTTL, err = durationVar(getenv, "LOCK_TTL", cfg.LockTTL); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = durationVar(getenv, "STORE_TIMEOUT", cfg.StoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = durationVar(getenv, "RECONCILE_INTERVAL", cfg.ReconcileInterval); err != nil {
		return Config{}, err
	}
	if v := getenv("CLOSE_TO_EXPIRE_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return Config{}, fmt.Errorf("invalid CLOSE_TO_EXPIRE_DAYS %q", v)
		}
		cfg.CloseToExpireDays = days
	}
	if v := getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("invalid LOG_FORMAT %q", cfg.LogFormat)
	}

	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}

func durationVar(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	// "0" is accepted without a unit.
	if v == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
