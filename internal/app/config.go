package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the care-coordination backend.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Monitoring    MonitoringConfig   `mapstructure:"monitoring"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Realtime      RealtimeConfig     `mapstructure:"realtime"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Push          PushConfig         `mapstructure:"push"`
	Sweeps        SweepsConfig       `mapstructure:"sweeps"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogEncoding     string        `mapstructure:"log_encoding"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
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
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuthConfig captures authentication settings. Tokens are issued by the identity service.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// RealtimeConfig tunes the websocket hub.
type RealtimeConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

// NotificationConfig tunes the dispatcher's background delivery.
type NotificationConfig struct {
	Workers      int           `mapstructure:"workers"`
	PushTimeout  time.Duration `mapstructure:"push_timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// PushConfig configures the mobile push provider.
type PushConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Provider           string        `mapstructure:"provider"`
	ProjectID          string        `mapstructure:"project_id"`
	CredentialsFile    string        `mapstructure:"credentials_file"`
	SendTimeout        time.Duration `mapstructure:"send_timeout"`
	Concurrency        int           `mapstructure:"concurrency"`
	ClearInvalidTokens bool          `mapstructure:"clear_invalid_tokens"`
}

// SweepsConfig configures the scheduled sweeps.
type SweepsConfig struct {
	Enabled      bool               `mapstructure:"enabled"`
	TickTimeout  time.Duration      `mapstructure:"tick_timeout"`
	Medication   WindowSweepConfig  `mapstructure:"medication"`
	Activity     WindowSweepConfig  `mapstructure:"activity"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	AIRisk       AIRiskConfig       `mapstructure:"ai_risk"`
}

// WindowSweepConfig configures a sweep that looks back over a trailing due window.
type WindowSweepConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Lookback time.Duration `mapstructure:"lookback"`
}

// SubscriptionConfig configures the subscription expiry sweep.
type SubscriptionConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	OffsetDays []int         `mapstructure:"offset_days"`
}

// AIRiskConfig configures the next-day AI risk sweep.
type AIRiskConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Interval          time.Duration `mapstructure:"interval"`
	RiskThreshold     float64       `mapstructure:"risk_threshold"`
	CriticalThreshold float64       `mapstructure:"critical_threshold"`
	PredictorURL      string        `mapstructure:"predictor_url"`
	PredictorTimeout  time.Duration `mapstructure:"predictor_timeout"`
}

// Validate rejects sweep settings that would silently miss due occurrences.
func (c SweepsConfig) Validate() error {
	for name, window := range map[string]WindowSweepConfig{
		"medication": c.Medication,
		"activity":   c.Activity,
	} {
		if !window.Enabled {
			continue
		}
		if window.Interval <= 0 || window.Lookback <= 0 {
			return fmt.Errorf("config: sweeps.%s: interval and lookback must be positive", name)
		}
		if window.Interval > window.Lookback {
			return fmt.Errorf("config: sweeps.%s: interval %s exceeds lookback %s", name, window.Interval, window.Lookback)
		}
	}

	if c.Subscription.Enabled {
		if c.Subscription.Interval <= 0 {
			return errors.New("config: sweeps.subscription: interval must be positive")
		}
		for _, days := range c.Subscription.OffsetDays {
			if days <= 0 {
				return fmt.Errorf("config: sweeps.subscription: offset %d must be positive", days)
			}
		}
	}

	if c.AIRisk.Enabled {
		risk, critical := c.AIRisk.RiskThreshold, c.AIRisk.CriticalThreshold
		if risk <= 0 || critical > 1 || risk > critical {
			return fmt.Errorf("config: sweeps.ai_risk: thresholds must satisfy 0 < risk (%v) <= critical (%v) <= 1", risk, critical)
		}
		if c.AIRisk.Interval <= 0 {
			return errors.New("config: sweeps.ai_risk: interval must be positive")
		}
	}
	return nil
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("CARECOORD")
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

	if err := config.Sweeps.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_encoding", "json")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/carecoord.sqlite")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("auth.jwt.issuer", "carecoord")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("realtime.allowed_origins", []string{})
	v.SetDefault("realtime.send_buffer", 32)
	v.SetDefault("realtime.ping_interval", "30s")

	v.SetDefault("notifications.workers", 16)
	v.SetDefault("notifications.push_timeout", "10s")
	v.SetDefault("notifications.drain_timeout", "10s")

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.provider", "fcm")
	v.SetDefault("push.send_timeout", "5s")
	v.SetDefault("push.concurrency", 8)
	v.SetDefault("push.clear_invalid_tokens", true)

	v.SetDefault("sweeps.enabled", true)
	v.SetDefault("sweeps.tick_timeout", "2m")
	v.SetDefault("sweeps.medication.enabled", true)
	v.SetDefault("sweeps.medication.interval", "1m")
	v.SetDefault("sweeps.medication.lookback", "5m")
	v.SetDefault("sweeps.activity.enabled", true)
	v.SetDefault("sweeps.activity.interval", "5m")
	v.SetDefault("sweeps.activity.lookback", "5m")
	v.SetDefault("sweeps.subscription.enabled", true)
	v.SetDefault("sweeps.subscription.interval", "24h")
	v.SetDefault("sweeps.subscription.offset_days", []int{7, 3, 1})
	v.SetDefault("sweeps.ai_risk.enabled", false)
	v.SetDefault("sweeps.ai_risk.interval", "1h")
	v.SetDefault("sweeps.ai_risk.risk_threshold", 0.6)
	v.SetDefault("sweeps.ai_risk.critical_threshold", 0.8)
	v.SetDefault("sweeps.ai_risk.predictor_timeout", "10s")
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
