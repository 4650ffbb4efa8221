package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultClinic      string        `mapstructure:"DEFAULT_CLINIC"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	ClinicTimezone     string        `mapstructure:"CLINIC_TIMEZONE"`
	SlotWidthMinutes   int           `mapstructure:"SLOT_WIDTH_MINUTES"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	JWTIssuer          string        `mapstructure:"JWT_ISSUER"`
	AMQPURL            string        `mapstructure:"AMQP_URL"`
	NotificationQueue  string        `mapstructure:"NOTIFICATION_QUEUE"`
	ReminderCron       string        `mapstructure:"REMINDER_CRON"`
	ReminderLookahead  time.Duration `mapstructure:"REMINDER_LOOKAHEAD"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	ShutdownTimeoutSec int           `mapstructure:"SHUTDOWN_TIMEOUT_SEC"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_CLINIC",
	"CORS_ORIGINS", "CLINIC_TIMEZONE", "SLOT_WIDTH_MINUTES", "JWT_SECRET", "JWT_ISSUER",
	"AMQP_URL", "NOTIFICATION_QUEUE", "REMINDER_CRON", "REMINDER_LOOKAHEAD",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "SHUTDOWN_TIMEOUT_SEC",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_CLINIC", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("SLOT_WIDTH_MINUTES", 30)
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("NOTIFICATION_QUEUE", "clinic.appointments")
	v.SetDefault("REMINDER_CRON", "*/15 * * * *")
	v.SetDefault("REMINDER_LOOKAHEAD", "24h")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("SHUTDOWN_TIMEOUT_SEC", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
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

// Location loads CLINIC_TIMEZONE. Weekly templates are interpreted in it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// JWT_SECRET must be set and at least 32 bytes long.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.SlotWidthMinutes <= 0 || c.SlotWidthMinutes > 24*60 {
		return fmt.Errorf("SLOT_WIDTH_MINUTES must be between 1 and 1440, got %d", c.SlotWidthMinutes)
	}
	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
		}
	}
	if c.ReminderLookahead < 0 {
		return fmt.Errorf("REMINDER_LOOKAHEAD must not be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
