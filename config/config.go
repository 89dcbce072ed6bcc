package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the governance layer and its daemon.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	Quarantine QuarantineConfig `mapstructure:"quarantine"`
	Gates      GatesConfig      `mapstructure:"gates"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains the ops HTTP server settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// BudgetConfig is the global default run budget. Per-run overrides are merged
// on top of these values when a run is initialized.
type BudgetConfig struct {
	MaxTotalTokens       int64   `mapstructure:"max_total_tokens"`
	MaxTotalCost         float64 `mapstructure:"max_total_cost"`
	MaxTotalTimeSeconds  int64   `mapstructure:"max_total_time_seconds"`
	WarnThresholdPercent float64 `mapstructure:"warn_threshold_percent"`
}

func (b BudgetConfig) Validate() error {
	if b.MaxTotalTokens < 0 {
		return fmt.Errorf("budget.max_total_tokens cannot be negative")
	}
	if b.MaxTotalCost < 0 {
		return fmt.Errorf("budget.max_total_cost cannot be negative")
	}
	if b.MaxTotalTimeSeconds < 0 {
		return fmt.Errorf("budget.max_total_time_seconds cannot be negative")
	}
	if b.WarnThresholdPercent < 0 || b.WarnThresholdPercent > 100 {
		return fmt.Errorf("budget.warn_threshold_percent must be within [0,100]")
	}
	return nil
}

// QuarantineConfig is the global retry/escalation policy for failed work units.
type QuarantineConfig struct {
	MaxRetries               int     `mapstructure:"max_retries"`
	RetryDelaySeconds        int64   `mapstructure:"retry_delay_seconds"`
	RetryBackoffMultiplier   float64 `mapstructure:"retry_backoff_multiplier"`
	AutoDismissAfterHours    int     `mapstructure:"auto_dismiss_after_hours"`
	AutoEscalateAfterRetries int     `mapstructure:"auto_escalate_after_retries"`
	SweepIntervalSeconds     int64   `mapstructure:"sweep_interval_seconds"`
	PollCron                 string  `mapstructure:"poll_cron"`
	PollIntervalSeconds      int64   `mapstructure:"poll_interval_seconds"`
}

func (q QuarantineConfig) Validate() error {
	if q.MaxRetries < 0 {
		return fmt.Errorf("quarantine.max_retries cannot be negative")
	}
	if q.RetryDelaySeconds <= 0 {
		return fmt.Errorf("quarantine.retry_delay_seconds must be > 0")
	}
	if q.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("quarantine.retry_backoff_multiplier must be >= 1")
	}
	if q.AutoEscalateAfterRetries <= 0 {
		return fmt.Errorf("quarantine.auto_escalate_after_retries must be > 0")
	}
	return nil
}

// GatesConfig carries the numeric thresholds used by the validation gates.
type GatesConfig struct {
	MinThesisLength          int     `mapstructure:"min_thesis_length"`
	MinEdgeExplanationLength int     `mapstructure:"min_edge_explanation_length"`
	NarrativeSimilarityWarn  float64 `mapstructure:"narrative_similarity_warn"`
	DownsideWarnPercent      float64 `mapstructure:"downside_warn_percent"`
	DownsideErrorPercent     float64 `mapstructure:"downside_error_percent"`
	QualityMinROIC           float64 `mapstructure:"quality_min_roic"`
	GARPMaxPEG               float64 `mapstructure:"garp_max_peg"`
	DeepValueMaxEVEBITDA     float64 `mapstructure:"deep_value_max_ev_ebitda"`
	DeepValueMinFCFYield     float64 `mapstructure:"deep_value_min_fcf_yield"`
}

// ScoringConfig carries ranking and novelty policy constants.
// The repetition window and new-ticker window are global policy; no caller has
// demonstrated a need for per-run overrides.
type ScoringConfig struct {
	NoveltyWeight        float64 `mapstructure:"novelty_weight"`
	NoveltyCap           float64 `mapstructure:"novelty_cap"`
	NoveltyFloor         float64 `mapstructure:"novelty_floor"`
	NewTickerDays        int     `mapstructure:"new_ticker_days"`
	RepetitionWindowDays int     `mapstructure:"repetition_window_days"`
}

// StorageConfig describes external storage collaborators.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains connection settings for the persistence collaborator.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains connection settings for the escalation event stream.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig reads configuration from the given path (or the usual search
// locations) plus ALPHAPIPE_* environment variables. Missing config files fall
// back to defaults; malformed files are fatal.
func LoadConfig(path string) *Config {
	v := viper.New()
	v.SetConfigName("alphapipe")
	v.SetConfigType("yaml")

	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ALPHAPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := cfg.Budget.Validate(); err != nil {
		panic(err)
	}
	if err := cfg.Quarantine.Validate(); err != nil {
		panic(err)
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10010")

	v.SetDefault("budget.max_total_tokens", 500000)
	v.SetDefault("budget.max_total_cost", 25.0)
	v.SetDefault("budget.max_total_time_seconds", 1800)
	v.SetDefault("budget.warn_threshold_percent", 70)

	v.SetDefault("quarantine.max_retries", 3)
	v.SetDefault("quarantine.retry_delay_seconds", 300)
	v.SetDefault("quarantine.retry_backoff_multiplier", 2.0)
	v.SetDefault("quarantine.auto_dismiss_after_hours", 72)
	v.SetDefault("quarantine.auto_escalate_after_retries", 3)
	v.SetDefault("quarantine.sweep_interval_seconds", 3600)
	v.SetDefault("quarantine.poll_interval_seconds", 60)

	v.SetDefault("gates.min_thesis_length", 200)
	v.SetDefault("gates.min_edge_explanation_length", 80)
	v.SetDefault("gates.narrative_similarity_warn", 0.6)
	v.SetDefault("gates.downside_warn_percent", 30)
	v.SetDefault("gates.downside_error_percent", 60)
	v.SetDefault("gates.quality_min_roic", 12)
	v.SetDefault("gates.garp_max_peg", 1.5)
	v.SetDefault("gates.deep_value_max_ev_ebitda", 7)
	v.SetDefault("gates.deep_value_min_fcf_yield", 7)

	v.SetDefault("scoring.novelty_weight", 0.45)
	v.SetDefault("scoring.novelty_cap", 60)
	v.SetDefault("scoring.novelty_floor", 5)
	v.SetDefault("scoring.new_ticker_days", 90)
	v.SetDefault("scoring.repetition_window_days", 30)

	v.SetDefault("storage.redis.addr", "localhost:6379")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 9095)
}
