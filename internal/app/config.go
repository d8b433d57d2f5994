package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration of the notification server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher"`
	Push        PushConfig        `mapstructure:"push"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig throttles API requests per client IP and route.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures access token validation settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// RealtimeConfig configures the channel bus.
type RealtimeConfig struct {
	Redis RedisRelayConfig `mapstructure:"redis"`
}

// RedisRelayConfig enables cross-instance delivery through Redis pub/sub.
type RedisRelayConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Address       string `mapstructure:"address"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// DispatcherConfig tunes the notification worker pool.
type DispatcherConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// PushConfig configures the mobile push providers.
type PushConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
	APNs       APNsConfig    `mapstructure:"apns"`
	MiPush     MiPushConfig  `mapstructure:"mipush"`
}

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	MaxFailures     int           `mapstructure:"max_failures"`
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`
}

// APNsConfig holds Apple push credentials. An empty key path disables APNs.
type APNsConfig struct {
	KeyPath         string `mapstructure:"key_path"`
	KeyID           string `mapstructure:"key_id"`
	TeamID          string `mapstructure:"team_id"`
	Topic           string `mapstructure:"topic"`
	Production      bool   `mapstructure:"production"`
	AlternativePort bool   `mapstructure:"alternative_port"`
}

// MiPushConfig holds Xiaomi push credentials. An empty secret disables MiPush.
type MiPushConfig struct {
	AppSecret   string `mapstructure:"app_secret"`
	PackageName string `mapstructure:"package_name"`
	Endpoint    string `mapstructure:"endpoint"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// MaintenanceConfig schedules background jobs.
type MaintenanceConfig struct {
	StatsSchedule string `mapstructure:"stats_schedule"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Explicit paths win over the working directory's config folder.
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("TREEHOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.rate_limit.requests_per_second", 20)
	v.SetDefault("server.rate_limit.burst", 40)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/treehole.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("realtime.redis.enabled", false)
	v.SetDefault("realtime.redis.address", "127.0.0.1:6379")
	v.SetDefault("realtime.redis.username", "")
	v.SetDefault("realtime.redis.password", "")
	v.SetDefault("realtime.redis.db", 0)
	v.SetDefault("realtime.redis.channel_prefix", "treehole:")

	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.queue_size", 1024)

	v.SetDefault("push.timeout", "15s")
	v.SetDefault("push.rate_per_sec", 50)
	v.SetDefault("push.burst", 100)
	v.SetDefault("push.breaker.max_failures", 5)
	v.SetDefault("push.breaker.recovery_timeout", "30s")
	v.SetDefault("push.apns.key_path", "")
	v.SetDefault("push.apns.key_id", "")
	v.SetDefault("push.apns.team_id", "")
	v.SetDefault("push.apns.topic", "")
	v.SetDefault("push.apns.production", false)
	v.SetDefault("push.apns.alternative_port", false)
	v.SetDefault("push.mipush.app_secret", "")
	v.SetDefault("push.mipush.package_name", "")
	v.SetDefault("push.mipush.endpoint", "")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("maintenance.stats_schedule", "@every 1m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
