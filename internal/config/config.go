package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"aurumpulse/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	GoldAPI   GoldAPIConfig   `mapstructure:"goldapi"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Twilio    TwilioConfig    `mapstructure:"twilio"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
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

// GoldAPIConfig captures gold price source connectivity.
type GoldAPIConfig struct {
	Source         string        `mapstructure:"source"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Metal          string        `mapstructure:"metal"`
	Currency       string        `mapstructure:"currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// EthereumConfig covers the on-chain Chainlink feed fallback source.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	FeedAddress    string        `mapstructure:"feed_address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TwilioConfig 描述 WhatsApp 消息通道参数。
type TwilioConfig struct {
	AccountSID      string        `mapstructure:"account_sid"`
	AuthToken       string        `mapstructure:"auth_token"`
	WhatsAppFrom    string        `mapstructure:"whatsapp_from"`
	StatusPollDelay time.Duration `mapstructure:"status_poll_delay"`
}

// AlertingConfig defines the price-change alert policy.
type AlertingConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Threshold float64 `mapstructure:"threshold"`
	Recipient string  `mapstructure:"recipient"`
}

// SchedulerConfig governs workflow cadence.
type SchedulerConfig struct {
	CheckCron  string `mapstructure:"check_cron"`
	DigestTime string `mapstructure:"digest_time"`
	Timezone   string `mapstructure:"timezone"`
}

// ServerConfig governs the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AURUMPULSE")
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
	v.SetDefault("app.name", "aurumpulse")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("goldapi.source", "goldapi")
	v.SetDefault("goldapi.base_url", "https://www.goldapi.io")
	v.SetDefault("goldapi.metal", "XAU")
	v.SetDefault("goldapi.currency", "INR")
	v.SetDefault("goldapi.request_timeout", "10s")
	v.SetDefault("goldapi.user_agent", "aurumpulse/1.0")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("twilio.status_poll_delay", "2s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.threshold", 100.0)

	v.SetDefault("scheduler.check_cron", "0 * * * *")
	v.SetDefault("scheduler.digest_time", "09:00")
	v.SetDefault("scheduler.timezone", "Asia/Kolkata")

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.mode", "release")

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
	switch c.GoldAPI.Source {
	case "goldapi", "chainlink":
	default:
		return fmt.Errorf("goldapi.source must be goldapi or chainlink")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.CheckCron == "" {
		return fmt.Errorf("scheduler.check_cron must be provided")
	}
	if _, err := time.Parse("15:04", c.Scheduler.DigestTime); err != nil {
		return fmt.Errorf("scheduler.digest_time 必须为 HH:MM 格式: %w", err)
	}
	if c.Alerting.Threshold < 0 {
		return fmt.Errorf("alerting.threshold cannot be negative")
	}
	if c.Alerting.Enabled && c.Alerting.Recipient == "" {
		return fmt.Errorf("alerting.recipient 必须配置")
	}
	if c.Twilio.StatusPollDelay < 0 {
		return fmt.Errorf("twilio.status_poll_delay cannot be negative")
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
