package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type DaemonConfig struct {
	ExpirationSeconds int `mapstructure:"expiration_seconds"`
}

type FetchConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type LoadConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type WatchConfig struct {
	Roots      []string `mapstructure:"roots"`
	DebounceMS int      `mapstructure:"debounce_ms"`
}

type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Daemon DaemonConfig `mapstructure:"daemon"`
	Fetch  FetchConfig  `mapstructure:"fetch"`
	Load   LoadConfig   `mapstructure:"load"`
	Watch  WatchConfig  `mapstructure:"watch"`
}

// cacheBase returns the base cache directory for ferrisindex.
// Checks XDG_CACHE_HOME, then ~/.cache, then /tmp/ferrisindex as fallback.
func cacheBase() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "ferrisindex")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "ferrisindex")
	}
	return filepath.Join(os.TempDir(), "ferrisindex")
}

// DBPath returns the path to the database file for the given driver.
func DBPath(driver string) string {
	if driver == "sqlite3" {
		return filepath.Join(cacheBase(), "index.sqlite")
	}
	return filepath.Join(cacheBase(), "index.duckdb")
}

// CASDir returns the path to the content-addressable storage directory.
func CASDir() string {
	return filepath.Join(cacheBase(), "cas")
}

// LogPath returns the path to the daemon's log file.
func LogPath() string {
	return filepath.Join(cacheBase(), "daemon.log")
}

// SocketPath returns the path to the daemon's unix socket.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "ferrisindex", "daemon.sock")
	}
	return filepath.Join(fmt.Sprintf("/run/user/%d", os.Getuid()), "ferrisindex", "daemon.sock")
}

func InitializeViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "ferrisindex"))
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "ferrisindex"))
	}

	viper.SetDefault("store.driver", "duckdb")
	viper.SetDefault("daemon.expiration_seconds", 600)
	viper.SetDefault("fetch.base_url", "https://docs.rs")
	viper.SetDefault("fetch.user_agent", "ferrisindex/0.1.0")
	viper.SetDefault("fetch.timeout", "60s")
	viper.SetDefault("load.concurrency", 4)
	viper.SetDefault("watch.roots", []string{})
	viper.SetDefault("watch.debounce_ms", 500)

	viper.SetEnvPrefix("FERRISINDEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func Load() (*Config, error) {
	if err := InitializeViper(); err != nil {
		return nil, err
	}
	return decode(viper.AllSettings())
}

func decode(settings map[string]interface{}) (*Config, error) {
	var config Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: decodeHooks(),
		Result:     &config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "duckdb", "sqlite3":
	case "":
		c.Store.Driver = "duckdb"
	default:
		return fmt.Errorf("unsupported store driver %q (want duckdb or sqlite3)", c.Store.Driver)
	}

	roots := c.Watch.Roots[:0]
	for _, r := range c.Watch.Roots {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if strings.HasPrefix(r, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				r = filepath.Join(home, r[2:])
			}
		}
		roots = append(roots, r)
	}
	c.Watch.Roots = roots
	return nil
}

// Expiration is the daemon's inactivity timeout.
func (c *Config) Expiration() time.Duration {
	if c.Daemon.ExpirationSeconds <= 0 {
		return 600 * time.Second
	}
	return time.Duration(c.Daemon.ExpirationSeconds) * time.Second
}

// Debounce is the watcher's quiet period before reloading a changed file.
func (c *Config) Debounce() time.Duration {
	if c.Watch.DebounceMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}
