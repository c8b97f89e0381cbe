package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keeps runtime settings for the service.
type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	DefaultTimezone      string        `mapstructure:"DEFAULT_TIMEZONE"`
	ReminderHour         int           `mapstructure:"REMINDER_HOUR"`
	ReminderSchedule     string        `mapstructure:"REMINDER_SCHEDULE"`
	ReminderInterval     time.Duration `mapstructure:"REMINDER_INTERVAL"`
	DispatchTimeout      time.Duration `mapstructure:"DISPATCH_TIMEOUT"`
	DispatchConcurrency  int           `mapstructure:"DISPATCH_CONCURRENCY"`
	WeeklyReportSchedule string        `mapstructure:"WEEKLY_REPORT_SCHEDULE"`
	TokenPurgeTime       string        `mapstructure:"TOKEN_PURGE_TIME"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	TelegramToken string `mapstructure:"TELEGRAM_TOKEN"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`
}

var defaults = map[string]interface{}{
	"ENVIRONMENT":            "development",
	"HTTP_ADDR":              ":8080",
	"DATABASE_DRIVER":        "sqlite",
	"DATABASE_URL":           "revision_planner.db",
	"REDIS_ADDR":             "",
	"REDIS_PASSWORD":         "",
	"REDIS_DB":               0,
	"JWT_SECRET":             "",
	"DEFAULT_TIMEZONE":       "UTC",
	"REMINDER_HOUR":          6,
	"REMINDER_SCHEDULE":      "0 0 * * * *",
	"REMINDER_INTERVAL":      "0s",
	"DISPATCH_TIMEOUT":       "10s",
	"DISPATCH_CONCURRENCY":   4,
	"WEEKLY_REPORT_SCHEDULE": "0 0 8 * * MON",
	"TOKEN_PURGE_TIME":       "03:00",
	"SMTP_HOST":              "",
	"SMTP_PORT":              587,
	"SMTP_USERNAME":          "",
	"SMTP_PASSWORD":          "",
	"SMTP_FROM":              "",
	"TELEGRAM_TOKEN":         "",
	"LOG_LEVEL":              "info",
	"LOG_FILE":               "",
}

// Load reads an optional .env file from path, then the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.DefaultTimezone = strings.TrimSpace(cfg.DefaultTimezone)
	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.ReminderHour < 0 || c.ReminderHour > 23 {
		return fmt.Errorf("REMINDER_HOUR must be within 0..23, got %d", c.ReminderHour)
	}
	switch strings.ToLower(c.DatabaseDriver) {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or mysql, got %q", c.DatabaseDriver)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil || c.DefaultTimezone == "Local" {
		return fmt.Errorf("DEFAULT_TIMEZONE %q is not a valid IANA zone", c.DefaultTimezone)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT must be positive")
	}
	if c.DispatchConcurrency < 1 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be at least 1")
	}
	if c.ReminderInterval < 0 {
		return fmt.Errorf("REMINDER_INTERVAL must not be negative")
	}
	return nil
}

// EmailEnabled reports whether SMTP delivery is configured.
func (c Config) EmailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}
