package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Engine   EngineConfig
	Limits   LimitsConfig
	Log      LogConfig
}

type ServerConfig struct {
	ListenAddr string // INTRUDER_LISTEN
}

type DatabaseConfig struct {
	// Path of the sqlite file; empty keeps campaigns in memory
	Path string
}

type EngineConfig struct {
	DefaultConcurrency int
	DefaultDelayMs     int
	RequestTimeout     time.Duration
	InsecureTLS        bool
	ProxyURL           string // upstream proxy, e.g. http://127.0.0.1:8080
	// API campaigns may only read wordlists below this directory; empty disables files for the API
	WordlistDir string
}

// LimitsConfig overrides the campaign limits. Zero keeps the built-in default.
type LimitsConfig struct {
	MaxConcurrency    int
	MaxPayloadsPerSet int
	MaxTotalRequests  int64
	MaxResponseBytes  int64
}

type LogConfig struct {
	Level string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func getInt64OrDefault(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

// Load reads .env (if present) and the INTRUDER_* environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the config from the process environment only
func FromEnv() (*Config, error) {
	concurrency, err := getIntOrDefault("INTRUDER_CONCURRENCY", 5)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		return nil, errors.New("INTRUDER_CONCURRENCY must be positive")
	}

	delayMs, err := getIntOrDefault("INTRUDER_DELAY_MS", 0)
	if err != nil {
		return nil, err
	}
	if delayMs < 0 {
		return nil, errors.New("INTRUDER_DELAY_MS must not be negative")
	}

	timeout, err := time.ParseDuration(getEnvOrDefault("INTRUDER_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("INTRUDER_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, errors.New("INTRUDER_TIMEOUT must be positive")
	}

	insecure := false
	if raw := os.Getenv("INTRUDER_INSECURE_TLS"); raw != "" {
		insecure, err = strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("INTRUDER_INSECURE_TLS: invalid boolean %q", raw)
		}
	}

	limits, err := limitsFromEnv()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			ListenAddr: getEnvOrDefault("INTRUDER_LISTEN", "127.0.0.1:8090"),
		},
		Database: DatabaseConfig{
			Path: os.Getenv("INTRUDER_DB"),
		},
		Engine: EngineConfig{
			DefaultConcurrency: concurrency,
			DefaultDelayMs:     delayMs,
			RequestTimeout:     timeout,
			InsecureTLS:        insecure,
			ProxyURL:           os.Getenv("INTRUDER_UPSTREAM_PROXY"),
			WordlistDir:        os.Getenv("INTRUDER_WORDLIST_DIR"),
		},
		Limits: limits,
		Log: LogConfig{
			Level: getEnvOrDefault("INTRUDER_LOG_LEVEL", "info"),
		},
	}, nil
}

func limitsFromEnv() (LimitsConfig, error) {
	var (
		l   LimitsConfig
		err error
	)
	if l.MaxConcurrency, err = getIntOrDefault("INTRUDER_MAX_CONCURRENCY", 0); err != nil {
		return l, err
	}
	if l.MaxPayloadsPerSet, err = getIntOrDefault("INTRUDER_MAX_PAYLOADS_PER_SET", 0); err != nil {
		return l, err
	}
	if l.MaxTotalRequests, err = getInt64OrDefault("INTRUDER_MAX_TOTAL_REQUESTS", 0); err != nil {
		return l, err
	}
	if l.MaxResponseBytes, err = getInt64OrDefault("INTRUDER_MAX_RESPONSE_BYTES", 0); err != nil {
		return l, err
	}
	if l.MaxConcurrency < 0 || l.MaxPayloadsPerSet < 0 || l.MaxTotalRequests < 0 || l.MaxResponseBytes < 0 {
		return l, errors.New("INTRUDER_MAX_* limits must not be negative")
	}
	return l, nil
}
