package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Relay    RelayConfig    `mapstructure:"relay"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"` // development, production
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

type SentryConfig struct {
	DSN         string  `mapstructure:"dsn"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// NotifyConfig 通知投递通道配置；未配置的通道不启用
type NotifyConfig struct {
	// Mode 选择派发方式：outbox（落库后由 relay 投递）或 async（进程内队列直接投递）
	Mode          string        `mapstructure:"mode"`
	QueueSize     int           `mapstructure:"queue_size"`
	Workers       int           `mapstructure:"workers"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RecipientTTL  time.Duration `mapstructure:"recipient_ttl"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	ShoutrrrURLs  []string      `mapstructure:"shoutrrr_urls"`
	KafkaBrokers  []string      `mapstructure:"kafka_brokers"`
	KafkaTopic    string        `mapstructure:"kafka_topic"`
	RedisInbox    bool          `mapstructure:"redis_inbox"`
	InboxLimit    int64         `mapstructure:"inbox_limit"`
}

type RelayConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	Workers           int           `mapstructure:"workers"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	Lease             time.Duration `mapstructure:"lease"`
	RatePerSecond     float64       `mapstructure:"rate_per_second"`
	Burst             int           `mapstructure:"burst"`
	RetryBaseInterval time.Duration `mapstructure:"retry_base_interval"`
}

// Load 读取配置：默认值 < config.yaml < 环境变量（CASA_ 前缀）
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom 与 Load 相同，但可以显式指定配置文件路径
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("CASA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "casa-followups")
	v.SetDefault("app.env", "development")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "casa.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 10*time.Minute)

	v.SetDefault("jwt.issuer", "casa")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("notify.mode", NotifyModeOutbox)
	v.SetDefault("notify.queue_size", 10000)
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("notify.recipient_ttl", time.Minute)
	v.SetDefault("notify.kafka_topic", "casa-followups")
	v.SetDefault("notify.redis_inbox", false)
	v.SetDefault("notify.inbox_limit", 200)

	v.SetDefault("relay.poll_interval", time.Second)
	v.SetDefault("relay.batch_size", 64)
	v.SetDefault("relay.workers", 2)
	v.SetDefault("relay.max_attempts", 8)
	v.SetDefault("relay.lease", 2*time.Minute)
	v.SetDefault("relay.rate_per_second", 20.0)
	v.SetDefault("relay.burst", 10)
	v.SetDefault("relay.retry_base_interval", 5*time.Second)
}

const (
	NotifyModeOutbox = "outbox"
	NotifyModeAsync  = "async"
)

// Validate 校验必填项和取值范围
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: server.addr must be set")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn must be set")
	}
	switch c.Notify.Mode {
	case NotifyModeOutbox, NotifyModeAsync:
	default:
		return fmt.Errorf("config: notify.mode must be %q or %q, got %q", NotifyModeOutbox, NotifyModeAsync, c.Notify.Mode)
	}
	if c.Relay.MaxAttempts < 1 {
		return errors.New("config: relay.max_attempts must be at least 1")
	}
	if c.App.Env == "production" && c.JWT.Secret == "" {
		return errors.New("config: jwt.secret is required when app.env=production")
	}
	return nil
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool { return c.App.Env == "production" }
