// Package config loads service configuration from a YAML file and SE_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Run modes. The mode picks default job cadence and whether the clock
// offset is honored.
const (
	ModePrinciple = "principle"
	ModeStaging   = "staging"
	ModeProxy     = "proxy"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

type AppConfig struct {
	Mode string `mapstructure:"mode"`
	// ClockOffset shifts the engine clock. Only honored in staging.
	ClockOffset time.Duration `mapstructure:"clock_offset"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminToken      string        `mapstructure:"admin_token"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type SettlementConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	VoidInterval    time.Duration `mapstructure:"void_interval"`
	Workers         int           `mapstructure:"workers"`
	SeasonCloseCron string        `mapstructure:"season_close_cron"`
}

type PricingConfig struct {
	MaxDifferential float64 `mapstructure:"max_differential"`
	SpreadShare     float64 `mapstructure:"spread_share"`
	WinBonusShare   float64 `mapstructure:"win_bonus_share"`
	SeedFile        string  `mapstructure:"seed_file"`
}

type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type NotifyConfig struct {
	WebhookURL string  `mapstructure:"webhook_url"`
	RPS        float64 `mapstructure:"rps"`
}

// Load reads path (unless envOnly) and overlays SE_* environment variables.
func Load(path string, envOnly bool) (Config, error) {
	v := newViper(path)
	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}
	return decode(v)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	v.AutomaticEnv()

	v.SetDefault("app.mode", ModePrinciple)
	v.SetDefault("app.clock_offset", "0s")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.migrate", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "30s")
	v.SetDefault("settlement.enabled", true)
	v.SetDefault("settlement.interval", "0s")
	v.SetDefault("settlement.void_interval", "0s")
	v.SetDefault("settlement.workers", 8)
	v.SetDefault("settlement.season_close_cron", "")
	v.SetDefault("pricing.max_differential", 50)
	v.SetDefault("pricing.spread_share", 0.85)
	v.SetDefault("pricing.win_bonus_share", 0.15)
	v.SetDefault("pricing.seed_file", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.rps", 10)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("provider.timeout", "10s")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.rps", 5)
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize validates the mode and fills intervals left at zero from the
// mode's defaults.
func (c *Config) normalize() error {
	c.App.Mode = strings.ToLower(strings.TrimSpace(c.App.Mode))
	settle, void, ok := modeIntervals(c.App.Mode)
	if !ok {
		return fmt.Errorf("config: unknown app.mode %q", c.App.Mode)
	}
	if c.Settlement.Interval <= 0 {
		c.Settlement.Interval = settle
	}
	if c.Settlement.VoidInterval <= 0 {
		c.Settlement.VoidInterval = void
	}
	if c.App.Mode != ModeStaging {
		c.App.ClockOffset = 0
	}
	if c.Settlement.Workers <= 0 {
		c.Settlement.Workers = 1
	}
	return nil
}

func modeIntervals(mode string) (settle, void time.Duration, ok bool) {
	switch mode {
	case ModePrinciple:
		return 10 * time.Minute, 5 * time.Minute, true
	case ModeStaging:
		return time.Minute, time.Minute, true
	case ModeProxy:
		return 30 * time.Second, 30 * time.Second, true
	}
	return 0, 0, false
}
