package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds adapter-level configuration. Per-session settings arrive with
// the launch/attach request instead.
type Config struct {
	// Listen is a TCP address to serve DAP on; empty means stdio.
	Listen  string `mapstructure:"listen"`
	Verbose bool   `mapstructure:"verbose"`

	// PollInterval paces the entry-pause and liveness polls.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// DefaultTimeout bounds the entry-pause wait when a launch request
	// carries no timeout of its own.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// LivenessInterval paces the process liveness probe.
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		PollInterval:     100 * time.Millisecond,
		DefaultTimeout:   60 * time.Second,
		LivenessInterval: 3 * time.Second,
	}
}

// Load loads configuration from files and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("revdbg")
	v.SetConfigType("yaml")

	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "revdbg"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".revdbg")
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("REVDBG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("default_timeout", cfg.DefaultTimeout)
	v.SetDefault("liveness_interval", cfg.LivenessInterval)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found; use defaults.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile returns the path of the config file that would be loaded.
func ConfigFile() string {
	v := viper.New()
	v.SetConfigName("revdbg")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err == nil {
		return v.ConfigFileUsed()
	}

	v.SetConfigName(".revdbg")
	if err := v.ReadInConfig(); err == nil {
		return v.ConfigFileUsed()
	}
	return ""
}
