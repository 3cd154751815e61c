package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"coinwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Engine    EngineConfig    `mapstructure:"engine"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the two sweep cadences.
type SchedulerConfig struct {
	LongWatchInterval time.Duration `mapstructure:"long_watch_interval"`
	HotWatchInterval  time.Duration `mapstructure:"hot_watch_interval"`
	AlignToBucket     bool          `mapstructure:"align_to_bucket"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
	LongLockKey       int64         `mapstructure:"long_lock_key"`
	HotLockKey        int64         `mapstructure:"hot_lock_key"`
}

// FeedConfig covers market-data access.
type FeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	RPCURL         string        `mapstructure:"rpc_url"`
}

// AlertingConfig defines alert routing and rate limits.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Rate     RateConfig     `mapstructure:"rate"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DiscordConfig describes the Discord transport.
type DiscordConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BotToken  string `mapstructure:"bot_token"`
	ChannelID string `mapstructure:"channel_id"`
}

// RateConfig tunes the outbound gate.
type RateConfig struct {
	BucketCapacity float64       `mapstructure:"bucket_capacity"`
	PerMinute      float64       `mapstructure:"per_minute"`
	MinGap         time.Duration `mapstructure:"min_gap"`
	DedupWindow    time.Duration `mapstructure:"dedup_window"`
}

// EngineConfig tunes the trigger engine itself.
type EngineConfig struct {
	RetentionMargin time.Duration `mapstructure:"retention_margin"`
	WarmupRequired  bool          `mapstructure:"warmup_required"`
	Defaults        WatchDefaults `mapstructure:"defaults"`
}

// WatchDefaults seed a new long-watch config when flags are omitted.
type WatchDefaults struct {
	RetracePct      float64       `mapstructure:"retrace_pct"`
	StallVolPct     float64       `mapstructure:"stall_vol_pct"`
	StallBandPct    float64       `mapstructure:"stall_band_pct"`
	BreakoutPct     float64       `mapstructure:"breakout_pct"`
	BreakoutVolMult float64       `mapstructure:"breakout_vol_mult"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

// APIConfig governs the read-only status API.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COINWATCH")
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
	v.SetDefault("app.name", "coinwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.long_watch_interval", "5m")
	v.SetDefault("scheduler.hot_watch_interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.long_lock_key", int64(0x636f696e4c))
	v.SetDefault("scheduler.hot_lock_key", int64(0x636f696e48))

	v.SetDefault("feed.base_url", "https://api.dexscreener.com")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "coinwatch/1.0")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.discord.enabled", false)
	v.SetDefault("alerting.rate.bucket_capacity", 5.0)
	v.SetDefault("alerting.rate.per_minute", 20.0)
	v.SetDefault("alerting.rate.min_gap", "30m")
	v.SetDefault("alerting.rate.dedup_window", "30s")

	v.SetDefault("engine.retention_margin", "1h")
	v.SetDefault("engine.warmup_required", true)
	v.SetDefault("engine.defaults.retrace_pct", 15.0)
	v.SetDefault("engine.defaults.stall_vol_pct", 40.0)
	v.SetDefault("engine.defaults.stall_band_pct", 3.0)
	v.SetDefault("engine.defaults.breakout_pct", 12.0)
	v.SetDefault("engine.defaults.breakout_vol_mult", 1.5)
	v.SetDefault("engine.defaults.cooldown", "6h")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", ":8087")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.LongWatchInterval <= 0 {
		return fmt.Errorf("scheduler.long_watch_interval must be greater than zero")
	}
	if c.Scheduler.HotWatchInterval <= 0 {
		return fmt.Errorf("scheduler.hot_watch_interval must be greater than zero")
	}
	if c.Engine.RetentionMargin < 0 {
		return fmt.Errorf("engine.retention_margin cannot be negative")
	}
	if c.Alerting.Rate.BucketCapacity <= 0 {
		return fmt.Errorf("alerting.rate.bucket_capacity must be greater than zero")
	}
	if c.Alerting.Rate.PerMinute <= 0 {
		return fmt.Errorf("alerting.rate.per_minute must be greater than zero")
	}
	if c.Alerting.Rate.DedupWindow < time.Second {
		return fmt.Errorf("alerting.rate.dedup_window must be at least 1s")
	}
	if d := c.Engine.Defaults; d.RetracePct <= 0 || d.StallVolPct <= 0 || d.StallBandPct <= 0 ||
		d.BreakoutPct <= 0 || d.BreakoutVolMult <= 0 || d.Cooldown <= 0 {
		return fmt.Errorf("engine.defaults thresholds and cooldown must all be positive")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Discord.Enabled {
		if c.Alerting.Discord.BotToken == "" {
			return fmt.Errorf("alerting.discord.bot_token 必须配置")
		}
		if c.Alerting.Discord.ChannelID == "" {
			return fmt.Errorf("alerting.discord.channel_id 必须配置")
		}
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen must be set when the status api is enabled")
	}
	return nil
}

// SampleRetention is the rolling-window horizon: the largest window plus the
// configured safety margin.
func (c *Config) SampleRetention() time.Duration {
	return 72*time.Hour + c.Engine.RetentionMargin
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
