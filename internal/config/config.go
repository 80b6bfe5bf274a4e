/**
 * @description
 * This package handles configuration for the checkout payment-service. It uses
 * Viper to read settings from environment variables (and an optional .env file),
 * applies defaults, and normalizes values the rest of the service relies on.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration loading.
 */
package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Snapshot backends.
const (
	SnapshotBackendRedis  = "redis"
	SnapshotBackendBolt   = "bolt"
	SnapshotBackendMemory = "memory"
)

// Config holds all the configuration variables for the payment-service.
type Config struct {
	ServerPort                  string `mapstructure:"SERVER_PORT"`
	DatabaseURL                 string `mapstructure:"DATABASE_URL"`
	RedisURL                    string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix              string `mapstructure:"REDIS_KEY_PREFIX"`
	SnapshotBackend             string `mapstructure:"SNAPSHOT_BACKEND"`
	SnapshotDBPath              string `mapstructure:"SNAPSHOT_DB_PATH"`
	SnapshotTTLHours            int    `mapstructure:"SNAPSHOT_TTL_HOURS"`
	RabbitMQURL                 string `mapstructure:"RABBITMQ_URL"`
	PaymentEventsExchange       string `mapstructure:"PAYMENT_EVENTS_EXCHANGE"`
	PayUSigningURL              string `mapstructure:"PAYU_SIGNING_URL"`
	AppBaseURL                  string `mapstructure:"APP_BASE_URL"`
	SupabaseJWTSecret           string `mapstructure:"SUPABASE_JWT_SECRET"`
	CORSAllowedOrigins          string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	PaymentCurrency             string `mapstructure:"PAYMENT_CURRENCY"`
	StandingInstructionsEnabled bool   `mapstructure:"STANDING_INSTRUCTIONS_ENABLED"`
	SupportEmail                string `mapstructure:"SUPPORT_EMAIL"`
	QueueIntervalSeconds        int    `mapstructure:"QUEUE_INTERVAL_SECONDS"`
	GatewayTimeoutSeconds       int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	RateLimitCountdownSeconds   int    `mapstructure:"RATE_LIMIT_COUNTDOWN_SECONDS"`
	FallbackEscalationThreshold int    `mapstructure:"FALLBACK_ESCALATION_THRESHOLD"`
	SubmitRateLimitPerMinute    int    `mapstructure:"SUBMIT_RATE_LIMIT_PER_MINUTE"`
	SessionSweepSchedule        string `mapstructure:"SESSION_SWEEP_SCHEDULE"`
	SessionMaxIdleMinutes       int    `mapstructure:"SESSION_MAX_IDLE_MINUTES"`
	ManualExpirySchedule        string `mapstructure:"MANUAL_EXPIRY_SCHEDULE"`
	ManualRequestTTLHours       int    `mapstructure:"MANUAL_REQUEST_TTL_HOURS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_KEY_PREFIX", "directory:checkout")
	viper.SetDefault("SNAPSHOT_TTL_HOURS", 24)
	viper.SetDefault("PAYMENT_EVENTS_EXCHANGE", "directory.events")
	viper.SetDefault("APP_BASE_URL", "http://localhost:3000")
	viper.SetDefault("PAYMENT_CURRENCY", "INR")
	viper.SetDefault("STANDING_INSTRUCTIONS_ENABLED", true)
	viper.SetDefault("SUPPORT_EMAIL", "support@example.com")
	viper.SetDefault("QUEUE_INTERVAL_SECONDS", 60)
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 10)
	viper.SetDefault("RATE_LIMIT_COUNTDOWN_SECONDS", 60)
	viper.SetDefault("FALLBACK_ESCALATION_THRESHOLD", 2)
	viper.SetDefault("SUBMIT_RATE_LIMIT_PER_MINUTE", 5)
	viper.SetDefault("SESSION_SWEEP_SCHEDULE", "@every 5m")
	viper.SetDefault("SESSION_MAX_IDLE_MINUTES", 30)
	viper.SetDefault("MANUAL_EXPIRY_SCHEDULE", "@hourly")
	viper.SetDefault("MANUAL_REQUEST_TTL_HOURS", 72)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("SNAPSHOT_BACKEND")
	_ = viper.BindEnv("SNAPSHOT_DB_PATH")
	_ = viper.BindEnv("SNAPSHOT_TTL_HOURS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENTS_EXCHANGE")
	_ = viper.BindEnv("PAYU_SIGNING_URL", "PAYU_SIGNING_URL", "PAYU_HASH_URL")
	_ = viper.BindEnv("APP_BASE_URL")
	_ = viper.BindEnv("SUPABASE_JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("PAYMENT_CURRENCY")
	_ = viper.BindEnv("STANDING_INSTRUCTIONS_ENABLED")
	_ = viper.BindEnv("SUPPORT_EMAIL")
	_ = viper.BindEnv("QUEUE_INTERVAL_SECONDS")
	_ = viper.BindEnv("GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("RATE_LIMIT_COUNTDOWN_SECONDS")
	_ = viper.BindEnv("FALLBACK_ESCALATION_THRESHOLD")
	_ = viper.BindEnv("SUBMIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SESSION_SWEEP_SCHEDULE")
	_ = viper.BindEnv("SESSION_MAX_IDLE_MINUTES")
	_ = viper.BindEnv("MANUAL_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("MANUAL_REQUEST_TTL_HOURS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.normalize()

	if config.PayUSigningURL == "" {
		return nil, errors.New("PAYU_SIGNING_URL is required")
	}
	if strings.TrimSpace(config.SupabaseJWTSecret) == "" {
		return nil, errors.New("SUPABASE_JWT_SECRET is required")
	}
	return &config, nil
}

func (c *Config) normalize() {
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(c.RedisKeyPrefix), ":")
	c.PayUSigningURL = strings.TrimSpace(c.PayUSigningURL)
	c.AppBaseURL = strings.TrimSuffix(strings.TrimSpace(c.AppBaseURL), "/")
	c.PaymentCurrency = strings.ToUpper(strings.TrimSpace(c.PaymentCurrency))
	if c.PaymentCurrency == "" {
		c.PaymentCurrency = "INR"
	}

	c.SnapshotBackend = strings.ToLower(strings.TrimSpace(c.SnapshotBackend))
	if c.SnapshotBackend == "" {
		switch {
		case c.RedisURL != "":
			c.SnapshotBackend = SnapshotBackendRedis
		case strings.TrimSpace(c.SnapshotDBPath) != "":
			c.SnapshotBackend = SnapshotBackendBolt
		default:
			c.SnapshotBackend = SnapshotBackendMemory
		}
	}

	if c.QueueIntervalSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive queue interval; using default\" value=%d", c.QueueIntervalSeconds)
		c.QueueIntervalSeconds = 60
	}
	if c.RateLimitCountdownSeconds <= 0 {
		c.RateLimitCountdownSeconds = 60
	}
	if c.FallbackEscalationThreshold <= 0 {
		c.FallbackEscalationThreshold = 2
	}
	if c.SessionMaxIdleMinutes <= 0 {
		c.SessionMaxIdleMinutes = 30
	}
	if c.ManualRequestTTLHours <= 0 {
		c.ManualRequestTTLHours = 72
	}
	if c.SnapshotTTLHours <= 0 {
		c.SnapshotTTLHours = 24
	}
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS; empty means any origin.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (c *Config) QueueInterval() time.Duration {
	return time.Duration(c.QueueIntervalSeconds) * time.Second
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

func (c *Config) RateLimitCountdown() time.Duration {
	return time.Duration(c.RateLimitCountdownSeconds) * time.Second
}

func (c *Config) SessionMaxIdle() time.Duration {
	return time.Duration(c.SessionMaxIdleMinutes) * time.Minute
}

func (c *Config) ManualRequestTTL() time.Duration {
	return time.Duration(c.ManualRequestTTLHours) * time.Hour
}

func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLHours) * time.Hour
}
