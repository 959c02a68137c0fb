// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"docchat/internal/domain/tier"
	"docchat/internal/infrastructure/resilient"
)

type Config struct {
	Env      string `validate:"required,oneof=development test staging production"`
	LogLevel string `validate:"required,oneof=debug info warn error"`
	Port     string `validate:"required"`

	Database  DatabaseConfig
	JWT       JWTConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	Retry     RetryConfig
	RateLimit tier.Policy

	WorkerConcurrency int `validate:"gte=1"`
}

type DatabaseConfig struct {
	URL      string `validate:"required"`
	MaxConns int32  `validate:"gte=1"`
	MinConns int32  `validate:"gte=0,ltefield=MaxConns"`
}

type JWTConfig struct {
	Secret    string        `validate:"required,min=16"`
	AccessTTL time.Duration `validate:"gt=0"`
}

type RedisConfig struct {
	CacheAddr     string `validate:"required,hostname_port"`
	QueueAddr     string `validate:"required,hostname_port"`
	RateLimitAddr string `validate:"required,hostname_port"`
	Password      string
}

type MinIOConfig struct {
	Endpoint  string `validate:"required"`
	AccessKey string `validate:"required"`
	SecretKey string `validate:"required"`
	Bucket    string `validate:"required,min=3,max=63"`
	Secure    bool
}

type RetryConfig struct {
	MaxAttempts int           `validate:"gte=1"`
	Delay       time.Duration `validate:"gte=0"`
	Cooldown    time.Duration `validate:"gte=0"`
}

// devJWTSecret is only accepted outside production.
const devJWTSecret = "docchat-development-secret-change-me"

// ErrInsecureSecret is returned when production runs with the development
// JWT secret.
var ErrInsecureSecret = errors.New("JWT_SECRET must be set in production")

func defaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("JWT_ACCESS_TTL", "30m")
	v.SetDefault("REDIS_CACHE_ADDR", "localhost:6379")
	v.SetDefault("REDIS_QUEUE_ADDR", "localhost:6380")
	v.SetDefault("REDIS_RATE_LIMIT_ADDR", "localhost:6381")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_BUCKET", "documents")
	v.SetDefault("MINIO_SECURE", false)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("RETRY_DELAY", "1s")
	v.SetDefault("RETRY_COOLDOWN", "5s")
	v.SetDefault("DEFAULT_RATE_LIMIT_LIMIT", 10)
	v.SetDefault("DEFAULT_RATE_LIMIT_PERIOD", 3600)
	v.SetDefault("WORKER_CONCURRENCY", 2)
}

// Load reads .env from the working directory when present, then the
// environment.
func Load() (*Config, error) {
	return LoadFiles(".env")
}

// LoadFiles is Load with explicit dotenv files. Missing files are skipped;
// variables already set in the environment win.
func LoadFiles(files ...string) (*Config, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	cfg := &Config{
		Env:      strings.ToLower(v.GetString("APP_ENV")),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		Port:     v.GetString("SERVER_PORT"),
		Database: DatabaseConfig{
			URL:      v.GetString("DATABASE_URL"),
			MaxConns: v.GetInt32("DB_MAX_CONNS"),
			MinConns: v.GetInt32("DB_MIN_CONNS"),
		},
		JWT: JWTConfig{
			Secret:    v.GetString("JWT_SECRET"),
			AccessTTL: v.GetDuration("JWT_ACCESS_TTL"),
		},
		Redis: RedisConfig{
			CacheAddr:     v.GetString("REDIS_CACHE_ADDR"),
			QueueAddr:     v.GetString("REDIS_QUEUE_ADDR"),
			RateLimitAddr: v.GetString("REDIS_RATE_LIMIT_ADDR"),
			Password:      v.GetString("REDIS_PASSWORD"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			Secure:    v.GetBool("MINIO_SECURE"),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("RETRY_MAX_ATTEMPTS"),
			Delay:       v.GetDuration("RETRY_DELAY"),
			Cooldown:    v.GetDuration("RETRY_COOLDOWN"),
		},
		RateLimit: tier.Policy{
			Limit:  v.GetInt("DEFAULT_RATE_LIMIT_LIMIT"),
			Period: v.GetInt("DEFAULT_RATE_LIMIT_PERIOD"),
		},
		WorkerConcurrency: v.GetInt("WORKER_CONCURRENCY"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and production-only rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Period <= 0 {
		return fmt.Errorf("invalid configuration: default rate limit must be positive, got %d/%ds",
			c.RateLimit.Limit, c.RateLimit.Period)
	}
	if c.IsProduction() && c.JWT.Secret == devJWTSecret {
		return ErrInsecureSecret
	}
	return nil
}

func (c *Config) IsProduction() bool  { return c.Env == "production" }
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// RetryPolicy is the connection policy shared by the external clients.
func (c *Config) RetryPolicy() resilient.RetryPolicy {
	p := resilient.DefaultRetryPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.Delay = c.Retry.Delay
	p.Cooldown = c.Retry.Cooldown
	return p
}
