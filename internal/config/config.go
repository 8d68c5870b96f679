// internal/config/config.go
package config

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DBURL             string        `mapstructure:"DB_URL"`
	HTTPAddr          string        `mapstructure:"HTTP_ADDR"`
	TokenCipherKeyHex string        `mapstructure:"TOKEN_CIPHER_KEY"`
	WebhookSecret     string        `mapstructure:"WEBHOOK_SECRET"`
	SyncInterval      time.Duration `mapstructure:"SYNC_INTERVAL"`
	InsightWindowDays int           `mapstructure:"INSIGHT_WINDOW_DAYS"`
	StaleJobTimeout   time.Duration `mapstructure:"STALE_JOB_TIMEOUT"`
	AIBaseURL         string        `mapstructure:"AI_BASE_URL"`
	AIModel           string        `mapstructure:"AI_MODEL"`

	TokenCipherKey []byte `mapstructure:"-"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("SYNC_INTERVAL", "1h")
	viper.SetDefault("INSIGHT_WINDOW_DAYS", 30)
	viper.SetDefault("STALE_JOB_TIMEOUT", "30m")
	viper.SetDefault("AI_MODEL", "llama3")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.TokenCipherKeyHex == "" {
		return nil, errors.New("TOKEN_CIPHER_KEY is a required configuration field")
	}
	key, err := hex.DecodeString(cfg.TokenCipherKeyHex)
	if err != nil || len(key) != 32 {
		return nil, errors.New("TOKEN_CIPHER_KEY must be 32 bytes of hex (64 hex characters)")
	}
	cfg.TokenCipherKey = key

	if cfg.InsightWindowDays <= 0 {
		return nil, errors.New("INSIGHT_WINDOW_DAYS must be positive")
	}

	return &cfg, nil
}
