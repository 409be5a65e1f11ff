// Package config provides configuration management for the stats agent,
// including version information, defaults, TOML file loading and
// environment overrides.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed version
var version string

//go:embed name
var name string

// LogLevel represents the logging level for the application.
type LogLevel string

// Logging level constants
const (
	Debug   LogLevel = "debug"
	Info    LogLevel = "info"
	Notice  LogLevel = "notice"
	Warning LogLevel = "warning"
	Error   LogLevel = "error"
)

// Cursor backends.
const (
	CursorBackendDB    = "db"
	CursorBackendRedis = "redis"
)

// Core types.
const (
	CoreTypeXray    = "xray"
	CoreTypeSingBox = "sing-box"
)

// ConfigFileEnv names the environment variable pointing at an optional TOML file.
const ConfigFileEnv = "MARZNODE_STATS_CONFIG"

// GetVersion returns the version string of the application.
func GetVersion() string {
	return strings.TrimSpace(version)
}

// GetName returns the name of the application.
func GetName() string {
	return strings.TrimSpace(name)
}

// Duration is a time.Duration that decodes from strings like "10s" in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds every tunable of the agent.
type Config struct {
	LogLevel LogLevel `toml:"log_level"`
	Listen   string   `toml:"listen"`

	AccessLog     string `toml:"access_log"`
	MaxBatchBytes int    `toml:"max_batch_bytes"`

	CursorBackend  string `toml:"cursor_backend"`
	DBType         string `toml:"db_type"`
	DBDSN          string `toml:"db_dsn"`
	KeepHistory    bool   `toml:"keep_history"`
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
	RedisKeyPrefix string `toml:"redis_key_prefix"`

	CoreType   string `toml:"core_type"`
	APIAddr    string `toml:"api_addr"`
	ClientName string `toml:"client_name"`

	TailInterval        Duration `toml:"tail_interval"`
	CollectInterval     Duration `toml:"collect_interval"`
	CollectTimeout      Duration `toml:"collect_timeout"`
	DeviceCheckInterval Duration `toml:"device_check_interval"`
	DeviceInactivity    Duration `toml:"device_inactivity"`
	DeviceRetention     Duration `toml:"device_retention"`
	StoreIdleRetention  Duration `toml:"store_idle_retention"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		LogLevel:            Info,
		Listen:              "127.0.0.1:53043",
		AccessLog:           "/var/lib/marznode/access.log",
		MaxBatchBytes:       4 << 20,
		CursorBackend:       CursorBackendDB,
		DBType:              "sqlite",
		DBDSN:               "/var/lib/marznode/stats.db",
		KeepHistory:         true,
		RedisAddr:           "127.0.0.1:6379",
		RedisKeyPrefix:      "marznode:stats:",
		CoreType:            CoreTypeXray,
		APIAddr:             "127.0.0.1:10085",
		ClientName:          "xray",
		TailInterval:        Duration(2 * time.Second),
		CollectInterval:     Duration(10 * time.Second),
		CollectTimeout:      Duration(5 * time.Second),
		DeviceCheckInterval: Duration(30 * time.Second),
		DeviceInactivity:    Duration(5 * time.Minute),
		DeviceRetention:     Duration(7 * 24 * time.Hour),
		StoreIdleRetention:  Duration(24 * time.Hour),
	}
}

// Load builds the configuration from defaults, the optional TOML file named by
// MARZNODE_STATS_CONFIG, a .env file in the working directory and finally the
// MARZNODE_* environment variables.
func Load() (*Config, error) {
	// a missing .env is normal in containers
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the TOML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"MARZNODE_LISTEN":           &c.Listen,
		"MARZNODE_ACCESS_LOG":       &c.AccessLog,
		"MARZNODE_CURSOR_BACKEND":   &c.CursorBackend,
		"MARZNODE_DB_TYPE":          &c.DBType,
		"MARZNODE_DB_DSN":           &c.DBDSN,
		"MARZNODE_REDIS_ADDR":       &c.RedisAddr,
		"MARZNODE_REDIS_PASSWORD":   &c.RedisPassword,
		"MARZNODE_REDIS_KEY_PREFIX": &c.RedisKeyPrefix,
		"MARZNODE_CORE_TYPE":        &c.CoreType,
		"MARZNODE_API_ADDR":         &c.APIAddr,
		"MARZNODE_CLIENT_NAME":      &c.ClientName,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MARZNODE_MAX_BATCH_BYTES": &c.MaxBatchBytes,
		"MARZNODE_REDIS_DB":        &c.RedisDB,
	}
	for key, dst := range ints {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"MARZNODE_TAIL_INTERVAL":         &c.TailInterval,
		"MARZNODE_COLLECT_INTERVAL":      &c.CollectInterval,
		"MARZNODE_COLLECT_TIMEOUT":       &c.CollectTimeout,
		"MARZNODE_DEVICE_CHECK_INTERVAL": &c.DeviceCheckInterval,
		"MARZNODE_DEVICE_INACTIVITY":     &c.DeviceInactivity,
		"MARZNODE_DEVICE_RETENTION":      &c.DeviceRetention,
		"MARZNODE_STORE_IDLE_RETENTION":  &c.StoreIdleRetention,
	}
	for key, dst := range durations {
		if v := getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	if v := getenv("MARZNODE_KEEP_HISTORY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MARZNODE_KEEP_HISTORY: %w", err)
		}
		c.KeepHistory = b
	}

	if getenv("MARZNODE_DEBUG") == "true" {
		c.LogLevel = Debug
	} else if v := getenv("MARZNODE_LOG_LEVEL"); v != "" {
		c.LogLevel = LogLevel(strings.ToLower(v))
	}
	return nil
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.AccessLog == "" {
		return fmt.Errorf("access log path is empty")
	}
	switch c.CursorBackend {
	case CursorBackendDB, CursorBackendRedis:
	default:
		return fmt.Errorf("unknown cursor backend %q", c.CursorBackend)
	}
	switch c.CoreType {
	case CoreTypeXray, CoreTypeSingBox:
	default:
		return fmt.Errorf("unknown core type %q", c.CoreType)
	}
	for name, d := range map[string]Duration{
		"tail_interval":         c.TailInterval,
		"collect_interval":      c.CollectInterval,
		"collect_timeout":       c.CollectTimeout,
		"device_check_interval": c.DeviceCheckInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.CollectTimeout >= c.CollectInterval {
		return fmt.Errorf("collect_timeout (%s) must be shorter than collect_interval (%s)",
			c.CollectTimeout.Std(), c.CollectInterval.Std())
	}
	return nil
}

// IsDebug reports whether debug logging is enabled.
func (c *Config) IsDebug() bool {
	return c.LogLevel == Debug
}
