package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/market-watch/internal/storage"
)

// Config is the typed application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	HTTP      HTTPConfig
	NATS      NATSConfig
	Database  storage.DatabaseConfig
	Redis     RedisConfig
	Market    MarketConfig
	Portfolio PortfolioConfig
	Engine    EngineConfig
	Notify    NotifyConfig
}

type AppConfig struct {
	Name string
}

type LogConfig struct {
	Level       string
	Development bool
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type NATSConfig struct {
	URLs           []string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MarketConfig struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	VsCurrency   string
	FetchTimeout time.Duration
}

type PortfolioConfig struct {
	BaseURL string
	Timeout time.Duration
}

type EngineConfig struct {
	Interval        time.Duration
	Concurrency     int
	PersistAttempts int
	StatsInterval   time.Duration
	DeepLinkBase    string
}

type NotifyConfig struct {
	PermissionTimeout time.Duration
	Email             EmailConfig
}

type EmailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "market-watch")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("database.driver", storage.DriverSQLite)
	v.SetDefault("database.dsn", "market_watch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("market.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("market.api_key", "")
	v.SetDefault("market.api_key_header", "x-cg-demo-api-key")
	v.SetDefault("market.vs_currency", "usd")
	v.SetDefault("market.fetch_timeout", 15*time.Second)

	v.SetDefault("portfolio.base_url", "")
	v.SetDefault("portfolio.timeout", 10*time.Second)

	v.SetDefault("engine.interval", 60*time.Second)
	v.SetDefault("engine.concurrency", 8)
	v.SetDefault("engine.persist_attempts", 3)
	v.SetDefault("engine.stats_interval", 5*time.Minute)
	v.SetDefault("engine.deep_link_base", "")

	v.SetDefault("notify.permission_timeout", 5*time.Second)
	v.SetDefault("notify.email.enabled", false)
	v.SetDefault("notify.email.host", "")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.from", "")
}

// Load reads the YAML file at path, applies MARKETWATCH_ environment
// overrides and validates the result. An empty path uses defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MARKETWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{Name: v.GetString("app.name")},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		NATS: NATSConfig{
			URLs:           v.GetStringSlice("nats.urls"),
			MaxReconnects:  v.GetInt("nats.max_reconnects"),
			ReconnectWait:  v.GetDuration("nats.reconnect_wait"),
			ConnectTimeout: v.GetDuration("nats.connect_timeout"),
		},
		Database: storage.DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Market: MarketConfig{
			BaseURL:      v.GetString("market.base_url"),
			APIKey:       v.GetString("market.api_key"),
			APIKeyHeader: v.GetString("market.api_key_header"),
			VsCurrency:   v.GetString("market.vs_currency"),
			FetchTimeout: v.GetDuration("market.fetch_timeout"),
		},
		Portfolio: PortfolioConfig{
			BaseURL: v.GetString("portfolio.base_url"),
			Timeout: v.GetDuration("portfolio.timeout"),
		},
		Engine: EngineConfig{
			Interval:        v.GetDuration("engine.interval"),
			Concurrency:     v.GetInt("engine.concurrency"),
			PersistAttempts: v.GetInt("engine.persist_attempts"),
			StatsInterval:   v.GetDuration("engine.stats_interval"),
			DeepLinkBase:    v.GetString("engine.deep_link_base"),
		},
		Notify: NotifyConfig{
			PermissionTimeout: v.GetDuration("notify.permission_timeout"),
			Email: EmailConfig{
				Enabled:  v.GetBool("notify.email.enabled"),
				Host:     v.GetString("notify.email.host"),
				Port:     v.GetInt("notify.email.port"),
				Username: v.GetString("notify.email.username"),
				Password: v.GetString("notify.email.password"),
				From:     v.GetString("notify.email.from"),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would make the process unusable
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.Interval <= 0 {
		errs = append(errs, fmt.Errorf("engine.interval must be positive, got %s", c.Engine.Interval))
	}
	switch c.Database.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if len(c.NATS.URLs) == 0 {
		errs = append(errs, errors.New("nats.urls is required"))
	}
	if c.Notify.Email.Enabled && (c.Notify.Email.Host == "" || c.Notify.Email.From == "") {
		errs = append(errs, errors.New("notify.email.host and notify.email.from are required when email is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
