package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix used by the commands.
const EnvPrefix = "NEBOA_"

type Config struct {
	// Path is the database file, or ":memory:".
	Path string `mapstructure:"path"`

	Journal JournalConfig `mapstructure:"journal"`
	Busy    BusyConfig    `mapstructure:"busy"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type JournalConfig struct {
	Mode string `mapstructure:"mode"` // WAL, DELETE, MEMORY, ...
}

type BusyConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	Statements int `mapstructure:"statements"` // prepared statements kept open
	Regexps    int `mapstructure:"regexps"`    // compiled patterns kept for REGEXP
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the /metrics listener
}

func DefaultConfig() *Config {
	return &Config{
		Path: "neboa.db",
		Journal: JournalConfig{
			Mode: "WAL",
		},
		Busy: BusyConfig{
			Timeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Statements: 64,
			Regexps:    128,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "tint",
		},
	}
}

// Load loads configuration from a .env file and environment variables
// prefix: Environment variable prefix (e.g. "NEBOA_")
// target: Pointer to the config struct to load into; fields that no
// source sets keep their current value.
func Load(prefix string, target interface{}) error {
	return LoadFile(".env", prefix, target)
}

// LoadFile is Load with an explicit dotenv file. A missing file is ignored.
func LoadFile(path, prefix string, target interface{}) error {
	v := viper.New()

	// 1. Load from the dotenv file (if exists)
	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("env")
	if err := file.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	for _, key := range file.AllKeys() {
		if prop, ok := propertyKey(prefix, key); ok {
			v.Set(prop, file.Get(key))
		}
	}

	// 2. Load from environment variables, overriding the file.
	// AutomaticEnv does not work with Unmarshal for unknown keys, so the
	// environment is walked explicitly.
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok {
			continue
		}
		if prop, ok := propertyKey(prefix, key); ok {
			v.Set(prop, value)
		}
	}

	// 3. Unmarshal into struct
	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// propertyKey maps NEBOA_CACHE_STATEMENTS to cache.statements.
func propertyKey(prefix, key string) (string, bool) {
	prefixUpper := strings.ToUpper(prefix)
	key = strings.ToUpper(key)
	if !strings.HasPrefix(key, prefixUpper) {
		return "", false
	}
	prop := strings.TrimPrefix(key, prefixUpper)
	prop = strings.ToLower(strings.ReplaceAll(prop, "_", "."))
	prop = strings.TrimPrefix(prop, ".")
	return prop, prop != ""
}
