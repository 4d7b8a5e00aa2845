package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"nockwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Chain        ChainConfig        `mapstructure:"chain"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Subscribers  SubscribersConfig  `mapstructure:"subscribers"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN
// disables snapshot history entirely.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AlertRetention  time.Duration `mapstructure:"alert_retention"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToClock    bool          `mapstructure:"align_to_clock"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ChainConfig covers access to the chain indexer RPC.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	CacheSize      int           `mapstructure:"cache_size"`
	Search         SearchConfig  `mapstructure:"search"`
}

// SearchConfig seeds the height search used when the endpoint cannot
// report its tip directly. Low must already be mined; Step bounds how far
// past High the search will expand per probe.
type SearchConfig struct {
	Low  uint64 `mapstructure:"low"`
	High uint64 `mapstructure:"high"`
	Step uint64 `mapstructure:"step"`
}

// MetricsConfig tunes metric derivation.
type MetricsConfig struct {
	Lookback     uint64        `mapstructure:"lookback"`
	VolumeWindow time.Duration `mapstructure:"volume_window"`
}

// AlertingConfig defines global thresholds and broadcast routing.
type AlertingConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	Floor      float64        `mapstructure:"floor"`
	Ceiling    float64        `mapstructure:"ceiling"`
	Recipients []int64        `mapstructure:"recipients"`
	Telegram   TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the delivery channel.
type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BotToken    string `mapstructure:"bot_token"`
	APIEndpoint string `mapstructure:"api_endpoint"`
}

// SubscribersConfig locates the durable recipient registry.
type SubscribersConfig struct {
	Path string `mapstructure:"path"`
}

// SubscriptionConfig prices paid entitlements.
type SubscriptionConfig struct {
	PriceStars   int `mapstructure:"price_stars"`
	DurationDays int `mapstructure:"duration_days"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
// A .env file in the working directory is folded into the environment
// first so deployments can keep credentials out of the unit file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("NOCKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "nockwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_clock", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6e6f636b))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("chain.rpc_url", "https://nockblocks.com/rpc/v1")
	v.SetDefault("chain.request_timeout", "30s")
	v.SetDefault("chain.user_agent", "nockwatch/1.0")
	v.SetDefault("chain.cache_size", 4096)
	v.SetDefault("chain.search.low", uint64(51000))
	v.SetDefault("chain.search.high", uint64(60000))
	v.SetDefault("chain.search.step", uint64(5000))

	v.SetDefault("metrics.lookback", uint64(100))
	v.SetDefault("metrics.volume_window", "24h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.floor", 1.0)
	v.SetDefault("alerting.ceiling", 100.0)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_endpoint", "https://api.telegram.org/bot%s/%s")

	v.SetDefault("subscribers.path", "subscribers.json")

	v.SetDefault("subscription.price_stars", 100)
	v.SetDefault("subscription.duration_days", 30)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.alert_retention", "720h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url must be configured")
	}
	if c.Chain.RequestTimeout <= 0 {
		return fmt.Errorf("chain.request_timeout must be greater than zero")
	}
	if c.Chain.Search.Low == 0 {
		return fmt.Errorf("chain.search.low must be greater than zero")
	}
	if c.Chain.Search.High < c.Chain.Search.Low {
		return fmt.Errorf("chain.search.high must not be below chain.search.low")
	}
	if c.Chain.Search.Step == 0 {
		return fmt.Errorf("chain.search.step must be greater than zero")
	}
	if c.Chain.CacheSize <= 0 {
		return fmt.Errorf("chain.cache_size must be greater than zero")
	}
	if c.Metrics.Lookback == 0 {
		return fmt.Errorf("metrics.lookback must be greater than zero")
	}
	if c.Metrics.VolumeWindow <= 0 {
		return fmt.Errorf("metrics.volume_window must be greater than zero")
	}
	if c.Alerting.Floor < 0 {
		return fmt.Errorf("alerting.floor cannot be negative")
	}
	if c.Alerting.Floor >= c.Alerting.Ceiling {
		return fmt.Errorf("alerting.floor must be less than alerting.ceiling")
	}
	if c.Subscription.PriceStars <= 0 {
		return fmt.Errorf("subscription.price_stars must be greater than zero")
	}
	if c.Subscription.DurationDays <= 0 {
		return fmt.Errorf("subscription.duration_days must be greater than zero")
	}
	if c.Subscribers.Path == "" {
		return fmt.Errorf("subscribers.path must be configured")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token must be configured when telegram is enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
