package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/tair/reseller-billing/pkg/database"
	"github.com/tair/reseller-billing/pkg/logger"
)

// Config holds payment service configuration
type Config struct {
	ServiceName    string `validate:"required"`
	Version        string
	Environment    string `validate:"oneof=development staging production"`
	HTTPPort       string `validate:"required,numeric"`
	LogLevel       string
	JaegerEndpoint string

	Database database.Config

	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string

	JWTSecret     string `validate:"required,min=16"`
	RenewalSecret string `validate:"required,min=16"`

	// PublicBaseURL is where gateways deliver callbacks and customers return to
	PublicBaseURL string `validate:"required,url"`

	ReferralCommissionPct decimal.Decimal
	GatewayTimeout        time.Duration `validate:"gte=1000000000,lte=30000000000"`
	RefreshThrottle       time.Duration
	RenewalBatchSize      int `validate:"gte=1,lte=1000"`

	BreakerMaxFailures int `validate:"gte=1"`
	BreakerTimeout     time.Duration

	StatusRateLimit int `validate:"gte=1"`
}

// IsDevelopment reports whether console logging should be used
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads .env (if present) and the environment, then validates the result
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Logger.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := &Config{
		ServiceName:    getEnv("OTEL_SERVICE_NAME", "payment-service"),
		Version:        getEnv("SERVICE_VERSION", "1.0.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		HTTPPort:       getEnv("HTTP_PORT", "8083"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		Database: database.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "paymentdb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		RenewalSecret:      getEnv("RENEWAL_SECRET", ""),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8083"), "/"),
		GatewayTimeout:     cast.ToDuration(getEnv("GATEWAY_TIMEOUT", "5s")),
		RefreshThrottle:    cast.ToDuration(getEnv("STATUS_REFRESH_THROTTLE", "30s")),
		RenewalBatchSize:   cast.ToInt(getEnv("RENEWAL_BATCH_SIZE", "100")),
		BreakerMaxFailures: cast.ToInt(getEnv("BREAKER_MAX_FAILURES", "5")),
		BreakerTimeout:     cast.ToDuration(getEnv("BREAKER_TIMEOUT", "30s")),
		StatusRateLimit:    cast.ToInt(getEnv("STATUS_RATE_LIMIT", "60")),
	}

	pct, err := decimal.NewFromString(getEnv("REFERRAL_COMMISSION_PCT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFERRAL_COMMISSION_PCT: %w", err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("invalid REFERRAL_COMMISSION_PCT: %s out of range", pct)
	}
	cfg.ReferralCommissionPct = pct

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
