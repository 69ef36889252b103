package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	ReminderPollInterval    time.Duration `mapstructure:"REMINDER_POLL_INTERVAL"`
	ReminderDeliveryTimeout time.Duration `mapstructure:"REMINDER_DELIVERY_TIMEOUT"`
	ReminderOffsetsRaw      string        `mapstructure:"REMINDER_OFFSETS"`
	ReminderTimezone        string        `mapstructure:"REMINDER_TIMEZONE"`
	MigrationsDir           string        `mapstructure:"MIGRATIONS_DIR"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CORS_ORIGINS",
	"JWT_SIGNING_KEY", "JWT_ISSUER",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"REMINDER_POLL_INTERVAL", "REMINDER_DELIVERY_TIMEOUT", "REMINDER_OFFSETS", "REMINDER_TIMEZONE",
	"MIGRATIONS_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("REMINDER_POLL_INTERVAL", "30s")
	v.SetDefault("REMINDER_DELIVERY_TIMEOUT", "10s")
	v.SetDefault("REMINDER_OFFSETS", "30m,1h,24h")
	v.SetDefault("REMINDER_TIMEZONE", "UTC")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSigningKey == "" {
		log.Println("WARNING: JWT_SIGNING_KEY not set; the push endpoint accepts ?user_id= in development mode.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SMTPEnabled reports whether an SMTP relay is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// ReminderOffsets parses REMINDER_OFFSETS ("30m,1h,24h") into durations.
func (c *Config) ReminderOffsets() ([]time.Duration, error) {
	var offsets []time.Duration
	for _, part := range strings.Split(c.ReminderOffsetsRaw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("REMINDER_OFFSETS: invalid duration %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("REMINDER_OFFSETS: offset %q must be positive", part)
		}
		offsets = append(offsets, d)
	}
	if len(offsets) == 0 {
		return nil, fmt.Errorf("REMINDER_OFFSETS must list at least one offset")
	}
	return offsets, nil
}

// Location resolves REMINDER_TIMEZONE, used to render times in reminder text.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ReminderTimezone)
	if err != nil {
		return nil, fmt.Errorf("REMINDER_TIMEZONE: %w", err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.ReminderPollInterval <= 0 {
		return fmt.Errorf("REMINDER_POLL_INTERVAL must be positive, got %s", c.ReminderPollInterval)
	}
	if c.ReminderDeliveryTimeout <= 0 {
		return fmt.Errorf("REMINDER_DELIVERY_TIMEOUT must be positive, got %s", c.ReminderDeliveryTimeout)
	}
	if _, err := c.ReminderOffsets(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.SMTPEnabled() && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}
