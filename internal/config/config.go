package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"infra-anomaly-alerts/internal/engine"
	"infra-anomaly-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Server      ServerConfig      `mapstructure:"server"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Cycle       CycleConfig       `mapstructure:"cycle"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Metrics     []MetricConfig    `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates the optional PostgreSQL report archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig governs the HTTP surface.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig governs the periodic trigger cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// CycleConfig bounds one evaluation cycle.
type CycleConfig struct {
	Window       time.Duration `mapstructure:"window"`
	Step         time.Duration `mapstructure:"step"`
	FanOut       int           `mapstructure:"fan_out"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Deadline     time.Duration `mapstructure:"deadline"`
	// HistorySize caps the in-memory ring of recent reports.
	HistorySize int `mapstructure:"history_size"`
}

// CorrelationConfig tunes deployment correlation.
type CorrelationConfig struct {
	Window          time.Duration       `mapstructure:"window"`
	MatchWeight     float64             `mapstructure:"match_weight"`
	GenericWeight   float64             `mapstructure:"generic_weight"`
	UnrelatedWeight float64             `mapstructure:"unrelated_weight"`
	RelatedScopes   map[string][]string `mapstructure:"related_scopes"`
}

// SourcesConfig wires the sample adapters.
type SourcesConfig struct {
	PromQL PromQLConfig `mapstructure:"promql"`
	Kube   KubeConfig   `mapstructure:"kube"`
}

// PromQLConfig covers the Prometheus-compatible query API.
type PromQLConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// KubeConfig covers cluster-state access.
type KubeConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Kubeconfig    string `mapstructure:"kubeconfig"`
	Namespace     string `mapstructure:"namespace"`
	CategoryLabel string `mapstructure:"category_label"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool        `mapstructure:"enabled"`
	ChartDir string      `mapstructure:"chart_dir"`
	Slack    SlackConfig `mapstructure:"slack"`
}

// SlackConfig describes the chat alert channel.
type SlackConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	Channel  string `mapstructure:"channel"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricConfig is the on-disk shape of one metric definition.
type MetricConfig struct {
	Scope             string        `mapstructure:"scope"`
	Name              string        `mapstructure:"name"`
	Unit              string        `mapstructure:"unit"`
	Source            string        `mapstructure:"source"`
	Query             string        `mapstructure:"query"`
	Mode              string        `mapstructure:"mode"`
	AbsoluteThreshold float64       `mapstructure:"absolute_threshold"`
	PercentThreshold  float64       `mapstructure:"percent_threshold"`
	Direction         string        `mapstructure:"direction"`
	ConsecutivePoints int           `mapstructure:"consecutive_points"`
	BaselineLookback  time.Duration `mapstructure:"baseline_lookback"`
	MinCurrentValue   float64       `mapstructure:"min_current_value"`
	Category          string        `mapstructure:"category"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INFRAWATCHER")
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
	v.SetDefault("app.name", "infrawatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x616e6f6d))

	v.SetDefault("cycle.window", "10m")
	v.SetDefault("cycle.step", "1m")
	v.SetDefault("cycle.fan_out", 4)
	v.SetDefault("cycle.fetch_timeout", "15s")
	v.SetDefault("cycle.deadline", "2m")
	v.SetDefault("cycle.history_size", 32)

	v.SetDefault("correlation.window", "1h")
	v.SetDefault("correlation.match_weight", 1.0)
	v.SetDefault("correlation.generic_weight", 0.7)
	v.SetDefault("correlation.unrelated_weight", 0.3)

	v.SetDefault("sources.promql.enabled", false)
	v.SetDefault("sources.promql.base_url", "http://localhost:8481/select/0/prometheus/api/v1")
	v.SetDefault("sources.promql.timeout", "15s")
	v.SetDefault("sources.promql.user_agent", "infrawatcher/1.0")

	v.SetDefault("sources.kube.enabled", false)
	v.SetDefault("sources.kube.namespace", "default")
	v.SetDefault("sources.kube.category_label", "monitoring/causation-category")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.chart_dir", "anomaly_charts")
	v.SetDefault("alerting.slack.enabled", false)
	v.SetDefault("alerting.slack.api_base", "https://slack.com")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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

// Validate performs sanity checks. Metric definitions are validated here
// too, before any cycle can run.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Cycle.Window <= 0 {
		return fmt.Errorf("cycle.window must be greater than zero")
	}
	if c.Cycle.HistorySize <= 0 {
		return fmt.Errorf("cycle.history_size must be greater than zero")
	}
	if c.Correlation.Window <= 0 {
		return fmt.Errorf("correlation.window must be greater than zero")
	}
	if c.Alerting.Slack.Enabled {
		if c.Alerting.Slack.BotToken == "" {
			return fmt.Errorf("alerting.slack.bot_token is required when slack is enabled")
		}
		if c.Alerting.Slack.Channel == "" {
			return fmt.Errorf("alerting.slack.channel is required when slack is enabled")
		}
	}

	if _, err := c.MetricDefinitions(); err != nil {
		return err
	}
	return nil
}

// MetricDefinitions converts the configured metrics into validated engine
// definitions.
func (c *Config) MetricDefinitions() ([]engine.MetricDefinition, error) {
	defs := make([]engine.MetricDefinition, 0, len(c.Metrics))
	for _, m := range c.Metrics {
		def := engine.MetricDefinition{
			ID:                engine.MetricID{Scope: m.Scope, Name: m.Name},
			Unit:              m.Unit,
			Source:            m.Source,
			Query:             m.Query,
			Mode:              engine.ComparisonMode(m.Mode),
			AbsoluteThreshold: m.AbsoluteThreshold,
			PercentThreshold:  m.PercentThreshold,
			Direction:         engine.Direction(m.Direction),
			ConsecutivePoints: m.ConsecutivePoints,
			BaselineLookback:  m.BaselineLookback,
			MinCurrentValue:   m.MinCurrentValue,
			Category:          m.Category,
		}
		if def.Direction == "" {
			def.Direction = engine.DirectionIncrease
		}
		if def.ConsecutivePoints == 0 {
			def.ConsecutivePoints = 1
		}
		if def.BaselineLookback == 0 {
			def.BaselineLookback = 7 * 24 * time.Hour
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
