package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all environment-driven settings for the billing service.
type Config struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	BaseURL     string `mapstructure:"BASE_URL"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("BASE_URL", "https://app.fitforge.example")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	viper.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	viper.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	viper.SetDefault("MINIO_BUCKET", "billing-events")
	viper.AutomaticEnv()

	// Bind environment variables explicitly so they appear in Unmarshal.
	for _, key := range []string{
		"PORT", "DATABASE_URL", "BASE_URL", "JWT_SECRET",
		"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY",
		"MINIO_USE_SSL", "MINIO_BUCKET",
	} {
		_ = viper.BindEnv(key)
	}

	err = viper.Unmarshal(&config)
	return
}

// StripeConfigured reports whether the secret key passes the format check the
// session issuer relies on. An unconfigured key downgrades checkout and portal
// creation to demo mode rather than erroring.
func (c Config) StripeConfigured() bool {
	return strings.HasPrefix(c.StripeSecretKey, "sk_")
}
