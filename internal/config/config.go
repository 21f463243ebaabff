package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chw/followup/internal/domain/followup"
)

// Feed sources.
const (
	FeedSourceFile     = "file"
	FeedSourcePostgres = "postgres"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RedisURL       string        `mapstructure:"REDIS_URL"`
	ResultCacheTTL time.Duration `mapstructure:"RESULT_CACHE_TTL"`

	FeedSource        string `mapstructure:"FEED_SOURCE"`
	RegistrationsPath string `mapstructure:"REGISTRATIONS_PATH"`
	CompletionsPath   string `mapstructure:"COMPLETIONS_PATH"`
	ActiveWorkersPath string `mapstructure:"ACTIVE_WORKERS_PATH"`
	VocabularyPath    string `mapstructure:"VOCABULARY_PATH"`

	OnTimeWindowDays int     `mapstructure:"ON_TIME_WINDOW_DAYS"`
	GracePeriodDays  int     `mapstructure:"GRACE_PERIOD_DAYS"`
	GreenThreshold   float64 `mapstructure:"GREEN_THRESHOLD"`
	YellowThreshold  float64 `mapstructure:"YELLOW_THRESHOLD"`
	ReferenceDate    string  `mapstructure:"REFERENCE_DATE"`

	RefreshSchedule string `mapstructure:"REFRESH_SCHEDULE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "REQUEST_TIMEOUT",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "RESULT_CACHE_TTL",
	"FEED_SOURCE", "REGISTRATIONS_PATH", "COMPLETIONS_PATH", "ACTIVE_WORKERS_PATH", "VOCABULARY_PATH",
	"ON_TIME_WINDOW_DAYS", "GRACE_PERIOD_DAYS", "GREEN_THRESHOLD", "YELLOW_THRESHOLD", "REFERENCE_DATE",
	"REFRESH_SCHEDULE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	defaults := followup.DefaultOptions()
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REQUEST_TIMEOUT", time.Minute)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("RESULT_CACHE_TTL", time.Hour)
	v.SetDefault("FEED_SOURCE", FeedSourceFile)
	v.SetDefault("ON_TIME_WINDOW_DAYS", defaults.OnTimeWindowDays)
	v.SetDefault("GRACE_PERIOD_DAYS", defaults.GracePeriodDays)
	v.SetDefault("GREEN_THRESHOLD", defaults.GreenThreshold)
	v.SetDefault("YELLOW_THRESHOLD", defaults.YellowThreshold)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.FeedSource = strings.ToLower(strings.TrimSpace(cfg.FeedSource))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.FeedSource {
	case FeedSourceFile:
	case FeedSourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when FEED_SOURCE is %q", FeedSourcePostgres)
		}
	default:
		return fmt.Errorf("FEED_SOURCE must be %q or %q, got %q", FeedSourceFile, FeedSourcePostgres, c.FeedSource)
	}

	if c.OnTimeWindowDays <= 0 {
		return fmt.Errorf("ON_TIME_WINDOW_DAYS must be positive, got %d", c.OnTimeWindowDays)
	}
	if c.GracePeriodDays < 0 {
		return fmt.Errorf("GRACE_PERIOD_DAYS must not be negative, got %d", c.GracePeriodDays)
	}
	if c.YellowThreshold > c.GreenThreshold {
		return fmt.Errorf("YELLOW_THRESHOLD (%v) must not exceed GREEN_THRESHOLD (%v)", c.YellowThreshold, c.GreenThreshold)
	}
	if _, err := c.Reference(); err != nil {
		return err
	}
	return nil
}

// Reference returns the configured reference date, or the zero time when
// runs should use today.
func (c *Config) Reference() (time.Time, error) {
	if strings.TrimSpace(c.ReferenceDate) == "" {
		return time.Time{}, nil
	}
	t, ok := followup.ParseDate(c.ReferenceDate)
	if !ok {
		return time.Time{}, fmt.Errorf("REFERENCE_DATE %q is not a date", c.ReferenceDate)
	}
	return t, nil
}

// EngineOptions converts the classification settings for the engine.
func (c *Config) EngineOptions() followup.Options {
	return followup.Options{
		OnTimeWindowDays: c.OnTimeWindowDays,
		GracePeriodDays:  c.GracePeriodDays,
		GreenThreshold:   c.GreenThreshold,
		YellowThreshold:  c.YellowThreshold,
	}
}

// Vocabulary loads VOCABULARY_PATH, or the embedded default when unset.
func (c *Config) Vocabulary() (*followup.Vocabulary, error) {
	if c.VocabularyPath == "" {
		return followup.DefaultVocabulary(), nil
	}
	return followup.LoadVocabulary(c.VocabularyPath)
}
