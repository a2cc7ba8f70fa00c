// Package config loads and validates signaler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Audit pathways: drive a browser in-process, or shell out to the Node
// analysis engine.
const (
	PathwayCollect = "collect"
	PathwayEngine  = "engine"
)

// Config captures every knob the CLI and its subsystems read.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Status   StatusConfig   `mapstructure:"status"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Discover DiscoverConfig `mapstructure:"discover"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StatusConfig controls the local status/metrics HTTP server.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig governs the task pool.
type AuditConfig struct {
	URLs               []string `mapstructure:"urls"`
	Devices            []string `mapstructure:"devices"`
	Parallelism        int      `mapstructure:"parallelism"`
	HardCap            int      `mapstructure:"hard_cap"`
	MaxRetries         int      `mapstructure:"max_retries"`
	RotateEvery        int      `mapstructure:"rotate_every"`
	BackoffMs          int      `mapstructure:"backoff_ms"`
	TaskTimeoutSeconds int      `mapstructure:"task_timeout_seconds"`
	Pathway            string   `mapstructure:"pathway"`
	ProcessPool        bool     `mapstructure:"process_pool"`
}

// DiscoverConfig bounds URL discovery crawls.
type DiscoverConfig struct {
	MaxDepth          int     `mapstructure:"max_depth"`
	MaxPages          int     `mapstructure:"max_pages"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	UserAgent         string  `mapstructure:"user_agent"`
}

// BrowserConfig locates and tunes the browser process.
type BrowserConfig struct {
	ExecPath           string   `mapstructure:"exec_path"`
	ExtraFlags         []string `mapstructure:"extra_flags"`
	BootTimeoutSeconds int      `mapstructure:"boot_timeout_seconds"`
}

// EngineConfig tunes the external analysis engine pathway.
type EngineConfig struct {
	NodePath   string   `mapstructure:"node_path"`
	Categories []string `mapstructure:"categories"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIGNALER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.port", 8080)
	v.SetDefault("audit.devices", []string{"desktop"})
	v.SetDefault("audit.parallelism", 0)
	v.SetDefault("audit.hard_cap", 4)
	v.SetDefault("audit.max_retries", 2)
	v.SetDefault("audit.rotate_every", 10)
	v.SetDefault("audit.backoff_ms", 300)
	v.SetDefault("audit.task_timeout_seconds", 45)
	v.SetDefault("audit.pathway", "collect")
	v.SetDefault("audit.process_pool", false)
	v.SetDefault("discover.max_depth", 0)
	v.SetDefault("discover.max_pages", 50)
	v.SetDefault("discover.requests_per_second", 4)
	v.SetDefault("discover.user_agent", "signaler-discover/1.0")
	v.SetDefault("browser.boot_timeout_seconds", 20)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Status.Enabled && c.Status.Port <= 0 {
		return fmt.Errorf("status.port must be > 0 when the status server is enabled")
	}
	if c.Audit.HardCap <= 0 {
		return fmt.Errorf("audit.hard_cap must be > 0")
	}
	if c.Audit.MaxRetries < 0 {
		return fmt.Errorf("audit.max_retries must be >= 0")
	}
	if c.Audit.TaskTimeoutSeconds <= 0 {
		return fmt.Errorf("audit.task_timeout_seconds must be > 0")
	}
	switch c.Audit.Pathway {
	case PathwayCollect, PathwayEngine:
	default:
		return fmt.Errorf("audit.pathway must be collect or engine, got %q", c.Audit.Pathway)
	}
	if len(c.Audit.Devices) == 0 {
		return fmt.Errorf("audit.devices must name at least one device profile")
	}
	if c.Discover.MaxPages <= 0 {
		return fmt.Errorf("discover.max_pages must be > 0")
	}
	return nil
}

// TaskTimeout converts the configured per-task budget.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Audit.TaskTimeoutSeconds) * time.Second
}

// Backoff converts the configured retry backoff base.
func (c Config) Backoff() time.Duration {
	return time.Duration(c.Audit.BackoffMs) * time.Millisecond
}

// BootTimeout converts the configured browser boot budget.
func (c Config) BootTimeout() time.Duration {
	return time.Duration(c.Browser.BootTimeoutSeconds) * time.Second
}
