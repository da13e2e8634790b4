package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Monitor  MonitorConfig  `yaml:"monitor" mapstructure:"monitor"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProviderConfig configures the imagery analysis gateway.
type ProviderConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey          string  `yaml:"api_key" mapstructure:"api_key"`
	Collection      string  `yaml:"collection" mapstructure:"collection"`
	BaselineStart   string  `yaml:"baseline_start" mapstructure:"baseline_start"`
	BaselineEnd     string  `yaml:"baseline_end" mapstructure:"baseline_end"`
	RecentStart     string  `yaml:"recent_start" mapstructure:"recent_start"`
	RecentEnd       string  `yaml:"recent_end" mapstructure:"recent_end"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffMs      int     `yaml:"backoff_ms" mapstructure:"backoff_ms"`
}

// NotifyConfig configures alert delivery.
type NotifyConfig struct {
	GatewayURL   string `yaml:"gateway_url" mapstructure:"gateway_url"`
	APIKey       string `yaml:"api_key" mapstructure:"api_key"`
	SenderEmail  string `yaml:"sender_email" mapstructure:"sender_email"`
	DashboardURL string `yaml:"dashboard_url" mapstructure:"dashboard_url"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MonitorConfig configures the scheduler and worker pool.
type MonitorConfig struct {
	ScheduleIntervalMins int `yaml:"schedule_interval_mins" mapstructure:"schedule_interval_mins"`
	Workers              int `yaml:"workers" mapstructure:"workers"`
	QueueDepth           int `yaml:"queue_depth" mapstructure:"queue_depth"`
	MaxAttempts          int `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoffSecs     int `yaml:"retry_backoff_secs" mapstructure:"retry_backoff_secs"`
	SoftTimeoutSecs      int `yaml:"soft_timeout_secs" mapstructure:"soft_timeout_secs"`
	HardTimeoutSecs      int `yaml:"hard_timeout_secs" mapstructure:"hard_timeout_secs"`
}

// ServerConfig configures the read-only status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("provider.collection", "COPERNICUS/S2_SR_HARMONIZED")
	v.SetDefault("provider.baseline_start", "2019-01-08")
	v.SetDefault("provider.baseline_end", "2023-03-14")
	v.SetDefault("provider.recent_start", "2024-11-01")
	v.SetDefault("provider.recent_end", "2025-04-30")
	v.SetDefault("provider.timeout_secs", 120)
	v.SetDefault("provider.requests_per_sec", 2.0)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.backoff_ms", 500)
	v.SetDefault("notify.sender_email", "geowatch-alerts@example.com")
	v.SetDefault("notify.dashboard_url", "http://localhost:5173/dashboard")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("monitor.schedule_interval_mins", 360)
	v.SetDefault("monitor.workers", 4)
	v.SetDefault("monitor.queue_depth", 256)
	v.SetDefault("monitor.max_attempts", 3)
	v.SetDefault("monitor.retry_backoff_secs", 60)
	v.SetDefault("monitor.soft_timeout_secs", 540)
	v.SetDefault("monitor.hard_timeout_secs", 600)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
