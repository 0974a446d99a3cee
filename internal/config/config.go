// Package config loads the ordersync configuration.
//
// Settings are resolved in the usual precedence order: explicit config
// file, then environment variables (ORDERSYNC_ prefix, dots replaced by
// underscores, e.g. ORDERSYNC_GOVERNOR_MAX_WRITES_PER_MINUTE), then an
// ordersync.yaml found in the working directory or ~/.config/ordersync,
// then built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved configuration tree.
type Config struct {
	// DatabasePath is the local store DSN: a SQLite file path or a
	// libsql:// URL.
	DatabasePath string `mapstructure:"database_path"`

	// SpreadsheetID identifies the remote spreadsheet. Empty means
	// offline mode (in-memory remote).
	SpreadsheetID string `mapstructure:"spreadsheet_id"`

	OrdersTab string `mapstructure:"orders_tab"`
	LinesTab  string `mapstructure:"lines_tab"`

	// AccessToken authenticates against the remote API. Usually supplied
	// via ORDERSYNC_ACCESS_TOKEN rather than the file.
	AccessToken string `mapstructure:"access_token"`

	// Precision is the decimal precision of amount cells (2 or 3).
	Precision int `mapstructure:"precision"`

	Governor  GovernorConfig  `mapstructure:"governor"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// GovernorConfig tunes remote write throttling.
type GovernorConfig struct {
	MaxWritesPerMinute int           `mapstructure:"max_writes_per_minute"`
	MinInterval        time.Duration `mapstructure:"min_interval"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BaseDelay          time.Duration `mapstructure:"base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	BatchSize          int           `mapstructure:"batch_size"`
}

// DaemonConfig tunes the background sync daemon.
type DaemonConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`
	LogFile          string        `mapstructure:"log_file"`
}

// DashboardConfig tunes the WebSocket dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// Load resolves the configuration. path may be empty, in which case the
// default search locations apply; a missing config file is not an error,
// a malformed one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ordersync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ordersync")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); path != "" || !notFound {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Precision < 2 || cfg.Precision > 3 {
		return nil, fmt.Errorf("precision must be 2 or 3, got %d", cfg.Precision)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", "ordersync.db")
	// Empty defaults register the keys so AutomaticEnv can fill them.
	v.SetDefault("spreadsheet_id", "")
	v.SetDefault("access_token", "")
	v.SetDefault("orders_tab", "Orders")
	v.SetDefault("lines_tab", "Lines")
	v.SetDefault("precision", 2)

	v.SetDefault("governor.max_writes_per_minute", 55)
	v.SetDefault("governor.min_interval", "1100ms")
	v.SetDefault("governor.max_retries", 5)
	v.SetDefault("governor.base_delay", "1s")
	v.SetDefault("governor.max_delay", "30s")
	v.SetDefault("governor.batch_size", 10)

	v.SetDefault("daemon.interval", "5m")
	v.SetDefault("daemon.debounce_interval", "2s")
	v.SetDefault("daemon.log_file", "")

	v.SetDefault("dashboard.port", 8091)
}
