// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 基础配置结构
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`

	HTTP        HTTPConfig        `mapstructure:"http"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Order       OrderConfig       `mapstructure:"order"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Alert       AlertConfig       `mapstructure:"alert"`
	MetricStore MetricStoreConfig `mapstructure:"metric_store"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// GRPCConfig gRPC 服务配置（仅暴露健康检查）
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres, sqlite
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 为空时不启用共享缓存层
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// 最大连接数
	MaxPoolSize int `mapstructure:"max_pool_size"`
	// 连接超时（秒）
	ConnTimeout int `mapstructure:"conn_timeout"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// Broker 地址列表，为空时事件只停留在 outbox 表
	Brokers []string `mapstructure:"brokers"`
	// 最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// 重试退避（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig 入口限流配置
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
	Burst   int  `mapstructure:"burst"`
}

// CacheConfig 二级缓存配置
type CacheConfig struct {
	// 默认 TTL（秒）
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds"`
	// 本地层 TTL 上限（秒）
	LocalCeilingSeconds int `mapstructure:"local_ceiling_seconds"`
	// 本地层容量（MB）
	LocalMaxMB int `mapstructure:"local_max_mb"`
	// 共享层连续失败多少次后熔断
	BreakerFailures int `mapstructure:"breaker_failures"`
	// 熔断后多久尝试半开（秒）
	BreakerTimeoutSeconds int `mapstructure:"breaker_timeout_seconds"`
}

// OrderConfig 下单流程配置
type OrderConfig struct {
	// 瞬时错误最大尝试次数
	RetryMax int `mapstructure:"retry_max"`
	// 首次退避（毫秒）
	RetryBaseMS int `mapstructure:"retry_base_ms"`
	// 下单默认超时（毫秒）
	CreateTimeoutMS int `mapstructure:"create_timeout_ms"`
}

// OutboxConfig outbox 转发配置
type OutboxConfig struct {
	PollIntervalMS int    `mapstructure:"poll_interval_ms"`
	BatchSize      int    `mapstructure:"batch_size"`
	Topic          string `mapstructure:"topic"`
}

// AlertConfig 告警引擎配置
type AlertConfig struct {
	TickIntervalSeconds int    `mapstructure:"tick_interval_seconds"`
	RulesFile           string `mapstructure:"rules_file"`
	WebhookURL          string `mapstructure:"webhook_url"`
}

// MetricStoreConfig 指标存储配置
type MetricStoreConfig struct {
	RetentionHours       int `mapstructure:"retention_hours"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

// Load 从 TOML 文件加载配置，支持环境变量覆盖；文件不存在时仅使用默认值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Order.RetryMax < 1 {
		return fmt.Errorf("order.retry_max must be >= 1, got %d", c.Order.RetryMax)
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("cache.default_ttl_seconds must be positive")
	}
	if c.Alert.TickIntervalSeconds <= 0 {
		return fmt.Errorf("alert.tick_interval_seconds must be positive")
	}
	if c.MetricStore.RetentionHours <= 0 {
		return fmt.Errorf("metric_store.retention_hours must be positive")
	}
	return nil
}

// CacheDefaultTTL 返回缓存默认 TTL
func (c *Config) CacheDefaultTTL() time.Duration {
	return time.Duration(c.Cache.DefaultTTLSeconds) * time.Second
}

// AlertTickInterval 返回告警评估间隔
func (c *Config) AlertTickInterval() time.Duration {
	return time.Duration(c.Alert.TickIntervalSeconds) * time.Second
}

// MetricRetention 返回指标保留时长
func (c *Config) MetricRetention() time.Duration {
	return time.Duration(c.MetricStore.RetentionHours) * time.Hour
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "onlinestore")
	v.SetDefault("version", "dev")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/onlinestore.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 200)

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 1)
	v.SetDefault("redis.write_timeout", 1)

	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/app.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.qps", 100)
	v.SetDefault("rate_limit.burst", 200)

	v.SetDefault("cache.default_ttl_seconds", 300)
	v.SetDefault("cache.local_ceiling_seconds", 30)
	v.SetDefault("cache.local_max_mb", 64)
	v.SetDefault("cache.breaker_failures", 5)
	v.SetDefault("cache.breaker_timeout_seconds", 10)

	v.SetDefault("order.retry_max", 3)
	v.SetDefault("order.retry_base_ms", 20)
	v.SetDefault("order.create_timeout_ms", 5000)

	v.SetDefault("outbox.poll_interval_ms", 500)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.topic", "onlinestore.order.events")

	v.SetDefault("alert.tick_interval_seconds", 60)

	v.SetDefault("metric_store.retention_hours", 24)
	v.SetDefault("metric_store.sweep_interval_seconds", 300)
}
