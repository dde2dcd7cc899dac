// Package config provides configuration loading and validation for the
// ordering-factor batch runner and the click tracker.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values shared by the binaries.
type Config struct {
	// Environment
	Env string `koanf:"env"`

	// Durable store
	DatabaseURL string `koanf:"database_url"`

	// Fast cache store
	RedisAddr     string `koanf:"redis_addr"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPassword string `koanf:"redis_password"`

	// Tracker HTTP server
	TrackerPort int `koanf:"tracker_port"`

	// Session-window dedup
	SessionLiveHours int `koanf:"session_live_hours"`
	DisplayingTime   int `koanf:"displaying_time_seconds"`

	// Migration
	MaxOverHours int           `koanf:"max_over_hours"`
	StagedTTL    time.Duration `koanf:"staged_ttl"`

	// Full-mode publish settle delay; zero disables the sleeps.
	SettleDelay time.Duration `koanf:"settle_delay"`

	// Derived-cache key patterns purged after a full ranking publish.
	CachePurgePatterns []string `koanf:"cache_purge_patterns"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporterType string  `koanf:"tracing_exporter_type"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingRedisAddr   = errors.New("REDIS_ADDR is required")
	ErrInvalidInt         = errors.New("value must be a valid integer")
	ErrInvalidDuration    = errors.New("value must be a valid duration")
)

// Default values for non-secret configuration.
const (
	DefaultEnv              = "development"
	DefaultTrackerPort      = 8080
	DefaultSessionLiveHours = 2
	DefaultDisplayingTime   = 6
	DefaultMaxOverHours     = 5
	DefaultStagedTTL        = 7 * 24 * time.Hour
	DefaultSettleDelay      = 5 * time.Second
	DefaultSamplingRate     = 0.1
)

// DefaultCachePurgePatterns are the derived listing caches that hold stale
// ordering once a full publish replaces the ranking collection.
var DefaultCachePurgePatterns = []string{"listing:params:*", "topsellers:*"}

// Load reads configuration from environment variables and an optional YAML
// file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	trackerPort, err := getEnvIntOrDefault("TRACKER_PORT", k.Int("tracker_port"), DefaultTrackerPort)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	sessionLive, err := getEnvIntOrDefault("SESSION_LIVE_HOURS", k.Int("session_live_hours"), DefaultSessionLiveHours)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	displaying, err := getEnvIntOrDefault("DISPLAYING_TIME_SECONDS", k.Int("displaying_time_seconds"), DefaultDisplayingTime)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	maxOver, err := getEnvIntOrDefault("MAX_OVER_HOURS", k.Int("max_over_hours"), DefaultMaxOverHours)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	redisDB, err := getEnvIntOrDefault("REDIS_DB", k.Int("redis_db"), 0)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	stagedTTL, err := getEnvDurationOrDefault("STAGED_TTL", k.Duration("staged_ttl"), DefaultStagedTTL)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	settleDelay, err := getEnvDurationOrDefault("SETTLE_DELAY", k.Duration("settle_delay"), DefaultSettleDelay)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	samplingRate, err := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultSamplingRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Env:                 getEnvOrDefaultMulti([]string{"OF_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:         getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:           getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisDB:             redisDB,
		RedisPassword:       getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		TrackerPort:         trackerPort,
		SessionLiveHours:    sessionLive,
		DisplayingTime:      displaying,
		MaxOverHours:        maxOver,
		StagedTTL:           stagedTTL,
		SettleDelay:         settleDelay,
		CachePurgePatterns:  getEnvListOrDefault("CACHE_PURGE_PATTERNS", k.Strings("cache_purge_patterns"), DefaultCachePurgePatterns),
		TracingEnabled:      getEnvBool("TRACING_ENABLED", k.Bool("tracing_enabled")),
		TracingExporterType: getEnvOrDefault("TRACING_EXPORTER_TYPE", k.String("tracing_exporter_type"), "otlp-grpc"),
		TracingOTLPEndpoint: getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate: samplingRate,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// SessionLiveTime returns the session-window length as a duration.
func (c *Config) SessionLiveTime() time.Duration {
	return time.Duration(c.SessionLiveHours) * time.Hour
}

// DisplayingDuration returns the impression display window as a duration.
func (c *Config) DisplayingDuration() time.Duration {
	return time.Duration(c.DisplayingTime) * time.Second
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisAddr == "" {
		errs = append(errs, ErrMissingRedisAddr)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// Secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"env":                c.Env,
		"database_url":       maskDatabaseURL(c.DatabaseURL),
		"redis_addr":         c.RedisAddr,
		"redis_db":           strconv.Itoa(c.RedisDB),
		"redis_password":     maskSecret(c.RedisPassword),
		"tracker_port":       strconv.Itoa(c.TrackerPort),
		"session_live_hours": strconv.Itoa(c.SessionLiveHours),
		"displaying_time":    strconv.Itoa(c.DisplayingTime),
		"max_over_hours":     strconv.Itoa(c.MaxOverHours),
		"staged_ttl":         c.StagedTTL.String(),
		"settle_delay":       c.SettleDelay.String(),
		"cache_purge":        strings.Join(c.CachePurgePatterns, ","),
		"tracing_enabled":    strconv.FormatBool(c.TracingEnabled),
	}
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvListOrDefault returns the environment variable split on commas if
// set, otherwise the koanf value, or default.
func getEnvListOrDefault(envKey string, koanfVal []string, defaultVal []string) []string {
	if val := os.Getenv(envKey); val != "" {
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	if len(koanfVal) > 0 {
		return koanfVal
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool if set, otherwise the koanf value.
func getEnvBool(envKey string, koanfVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return koanfVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidInt)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if
// set, otherwise the koanf value, or default.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidDuration)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
