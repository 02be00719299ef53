package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		Env      string `env:"APP_ENV" envDefault:"local"`
		LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	}
	HTTP struct {
		Port           string        `env:"SERVER_PORT" envDefault:"8080"`
		AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
		ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"90s"`
	}
	Database struct {
		URL             string        `env:"DB_URL"`
		MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
		MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"25"`
		ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	}
	Auth struct {
		SecretKey       string        `env:"SECRET_KEY"`
		AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
		RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
		VerificationTTL time.Duration `env:"VERIFICATION_CODE_TTL" envDefault:"15m"`
	}
	Slots struct {
		Minutes int `env:"SLOT_DURATION_MINUTES" envDefault:"30"`
	}
	Storage struct {
		Driver          string `env:"STORAGE_DRIVER" envDefault:"local"`
		LocalDir        string `env:"STORAGE_LOCAL_DIR" envDefault:"uploads/xrays"`
		PublicBaseURL   string `env:"STORAGE_PUBLIC_BASE_URL"`
		Bucket          string `env:"S3_BUCKET" envDefault:"xrays"`
		Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
		Endpoint        string `env:"S3_ENDPOINT"`
		AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
		SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	}
	Caption struct {
		URL     string        `env:"CAPTION_API_URL" envDefault:"http://127.0.0.1:8000/caption"`
		Timeout time.Duration `env:"CAPTION_TIMEOUT" envDefault:"60s"`
	}
	SMTP struct {
		Host string `env:"SMTP_HOST"`
		Port int    `env:"SMTP_PORT" envDefault:"587"`
		User string `env:"SMTP_USER"`
		Pass string `env:"SMTP_PASS"`
		From string `env:"SMTP_FROM"`
	}
	Push struct {
		Enabled bool `env:"EXPO_PUSH_ENABLED" envDefault:"false"`
	}
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command needs. Serving additionally
// requires a secret key, checked by RequireServe.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DB_URL is required")
	}
	if c.Slots.Minutes <= 0 {
		return fmt.Errorf("SLOT_DURATION_MINUTES must be positive, got %d", c.Slots.Minutes)
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q, expected local or s3", c.Storage.Driver)
	}
	return nil
}

func (c *Config) RequireServe() error {
	if len(c.Auth.SecretKey) < 16 {
		return errors.New("SECRET_KEY must be set to at least 16 characters")
	}
	return nil
}

func (c *Config) SMTPEnabled() bool {
	return c.SMTP.Host != "" && c.SMTP.From != ""
}

func (c *Config) IsLocal() bool {
	return c.App.Env == "local"
}
