package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/tair/reseller-billing/internal/notification"
	"github.com/tair/reseller-billing/internal/payment/repository"
	"github.com/tair/reseller-billing/kafka"
	"github.com/tair/reseller-billing/pkg/database"
	"github.com/tair/reseller-billing/pkg/logger"
	"github.com/tair/reseller-billing/pkg/tracing"
)

func main() {
	_ = godotenv.Load()

	// Initialize logger
	serviceName := getEnv("OTEL_SERVICE_NAME", "payment-notifier")
	isDevelopment := getEnv("ENVIRONMENT", "development") == "development"
	logger.Init(serviceName, isDevelopment)
	logger.SetLevel(getEnv("LOG_LEVEL", "info"))

	logger.Logger.Info().Str("service", serviceName).Msg("Starting payment notifier")

	// Initialize tracer
	tp, err := tracing.InitTracer(serviceName, getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"), getEnv("SERVICE_VERSION", "1.0.0"))
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(ctx, tp); err != nil {
				logger.Logger.Error().Err(err).Msg("Failed to shutdown tracer")
			}
		}()
	}

	// Recipients are read from the payment service database
	db, err := database.NewGormConnection(database.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		DBName:   getEnv("DB_NAME", "paymentdb"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	})
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	var mailer notification.Mailer = notification.LogMailer{}
	if host := getEnv("SMTP_HOST", ""); host != "" {
		mailer = notification.NewSMTPMailer(notification.SMTPConfig{
			Host:     host,
			Port:     getEnv("SMTP_PORT", "587"),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			StartTLS: cast.ToBool(getEnv("SMTP_STARTTLS", "true")),
		})
	}
	notifier := notification.NewNotifier(repository.NewGormUserRepository(db), mailer, getEnv("MAIL_FROM", "billing@localhost"))

	brokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	consumer, err := kafka.NewConsumer(brokers, getEnv("KAFKA_GROUP_ID", "payment-notifier"),
		[]string{kafka.TopicPaymentCompleted, kafka.TopicRenewalFailed})
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	notifier.Register(consumer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := consumer.Start(ctx); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to start consumer")
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info().Msg("Shutting down notifier...")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
