package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/warden-project/warden/internal/logger"
)

// Config is the daemon-level configuration, loaded from TOML. The program
// list itself lives in the separate plain-text file named by Programs.
type Config struct {
	Socket       string        `mapstructure:"socket"`
	Programs     string        `mapstructure:"programs"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	KillTimeout  time.Duration `mapstructure:"kill_timeout"`
	LogLevel     string        `mapstructure:"log_level"`
	Env          []string      `mapstructure:"env"`

	Log     logger.Config `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	History HistoryConfig `mapstructure:"history"`
	HTTP    HTTPConfig    `mapstructure:"http"`
}

// StoreConfig selects the optional run store. Empty DSN disables it.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// HistoryConfig configures the optional ClickHouse event sink. Empty Addr
// disables it.
type HistoryConfig struct {
	ClickHouseAddr     string `mapstructure:"clickhouse_addr"`
	ClickHouseDatabase string `mapstructure:"clickhouse_database"`
	ClickHouseUser     string `mapstructure:"clickhouse_user"`
	ClickHousePassword string `mapstructure:"clickhouse_password"`
	ClickHouseTable    string `mapstructure:"clickhouse_table"`
}

// HTTPConfig configures the optional embeddable HTTP management API. Empty
// Listen disables it.
type HTTPConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	Metrics  bool   `mapstructure:"metrics"`
}

// Default values applied before reading the file.
const (
	DefaultSocket       = "/run/warden.sock"
	DefaultPrograms     = "warden.conf"
	DefaultRestartDelay = 5 * time.Second
)

// Load reads daemon configuration from a TOML file. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("socket", DefaultSocket)
	v.SetDefault("programs", DefaultPrograms)
	v.SetDefault("restart_delay", DefaultRestartDelay)
	v.SetDefault("kill_timeout", time.Duration(0))
	v.SetDefault("log_level", "info")
	v.SetDefault("http.base_path", "/api")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if c.Socket == "" {
		return Config{}, fmt.Errorf("socket path must not be empty")
	}
	if c.RestartDelay < 0 {
		return Config{}, fmt.Errorf("restart_delay must not be negative")
	}
	return c, nil
}
